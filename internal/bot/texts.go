package bot

// User-facing texts. The bot speaks Russian, as it always has.
const (
	textGreeting      = "Привет! Я буду напоминать тебе об отжиманиях."
	textStatsFmt      = "Общее количество отжиманий: %d"
	textRecordedFmt   = "Вы сделали %d отжиманий! Всего: %d"
	textInvalidChoice = "Недопустимое количество."
	textNotRegistered = "Сначала нажмите /start."
)
