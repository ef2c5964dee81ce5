package risk

import (
	"sort"
	"strings"
	"time"

	"github.com/shipmates/tracksync/internal/models"
)

type Level string

const (
	LevelOnTime    Level = "ON_TIME"
	LevelWarning   Level = "WARNING"
	LevelCritical  Level = "CRITICAL"
	LevelSensitive Level = "SENSITIVE"
	LevelDelivered Level = "DELIVERED"
)

// SlabRule — правило "по префиксу идентификатора": сколько дней транзита
// считается нормой для этого слэба.
type SlabRule struct {
	Prefix        string
	AllowanceDays int
}

type Config struct {
	Slabs                []SlabRule
	DefaultAllowanceDays int // default: 5

	// Пороги эскалации "залипания" в часах.
	StaleWarningHours   int // default: 24
	StaleCriticalHours  int // default: 48
	StaleSensitiveHours int // default: 72
}

func DefaultConfig() Config {
	return Config{
		Slabs: []SlabRule{
			{Prefix: "EXP", AllowanceDays: 4}, // короткий цикл
			{Prefix: "SUR", AllowanceDays: 6}, // длинный цикл (surface)
		},
		DefaultAllowanceDays: 5,
		StaleWarningHours:    24,
		StaleCriticalHours:   48,
		StaleSensitiveHours:  72,
	}
}

// Classifier — два независимых read-only сигнала риска. Никакого состояния:
// всё считается из Consignment и его последних событий на момент чтения,
// в строку consignments ничего не пишется.
type Classifier struct {
	cfg Config
}

func New(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.DefaultAllowanceDays <= 0 {
		cfg.DefaultAllowanceDays = def.DefaultAllowanceDays
	}
	if len(cfg.Slabs) == 0 {
		cfg.Slabs = def.Slabs
	}
	if cfg.StaleWarningHours <= 0 {
		cfg.StaleWarningHours = def.StaleWarningHours
	}
	if cfg.StaleCriticalHours <= 0 {
		cfg.StaleCriticalHours = def.StaleCriticalHours
	}
	if cfg.StaleSensitiveHours <= 0 {
		cfg.StaleSensitiveHours = def.StaleSensitiveHours
	}
	// Длинные префиксы первыми, чтобы "EXPZ" не съедался правилом "EXP".
	sort.SliceStable(cfg.Slabs, func(i, j int) bool {
		return len(cfg.Slabs[i].Prefix) > len(cfg.Slabs[j].Prefix)
	})
	return &Classifier{cfg: cfg}
}

// AllowanceDays выбирает слэб по префиксу идентификатора.
func (c *Classifier) AllowanceDays(trackingID string) int {
	for _, s := range c.cfg.Slabs {
		if s.Prefix != "" && strings.HasPrefix(trackingID, s.Prefix) {
			return s.AllowanceDays
		}
	}
	return c.cfg.DefaultAllowanceDays
}

// ClassifyTat — риск по сроку доставки (turnaround time).
// Терминальный статус (доставлено, RTO, отмена) снимает груз с эскалации.
// Без bookedAt оценивать нечего: OnTime.
func (c *Classifier) ClassifyTat(trackingID string, bookedAt *time.Time, currentStatus string, now time.Time) Level {
	if models.IsTerminalStatus(currentStatus) {
		return LevelDelivered
	}
	if bookedAt == nil {
		return LevelOnTime
	}

	allowance := c.AllowanceDays(trackingID)
	ageDays := int(now.Sub(*bookedAt).Hours() / 24)

	switch {
	case ageDays >= allowance+3:
		return LevelSensitive
	case ageDays == allowance+2:
		return LevelCritical
	case ageDays == allowance+1:
		return LevelWarning
	default:
		return LevelOnTime
	}
}

// Movement — результат классификации застоя: уровень плюс человекочитаемая
// причина ("stuck" при совпадении локаций vs просто медленный прогресс).
type Movement struct {
	Level  Level
	Reason string
}

// ClassifyMovement — риск по отсутствию движения. Сравнивает локацию
// последнего события с предыдущей: совпадение трактуем как "застрял на
// месте", различие — как общее замедление с теми же порогами по часам.
func (c *Classifier) ClassifyMovement(last *models.TrackingEvent, prevLocation string, currentStatus string, now time.Time) Movement {
	if models.IsTerminalStatus(currentStatus) {
		return Movement{Level: LevelDelivered, Reason: "terminal status"}
	}
	if last == nil {
		return Movement{Level: LevelOnTime, Reason: "no events yet"}
	}

	at := last.EventTime
	if at == nil {
		if last.CreatedAt.IsZero() {
			return Movement{Level: LevelOnTime, Reason: "no event timestamp"}
		}
		at = &last.CreatedAt
	}

	hours := int(now.Sub(*at).Hours())
	stuck := last.Location != "" && last.Location == prevLocation

	var lvl Level
	switch {
	case hours >= c.cfg.StaleSensitiveHours:
		lvl = LevelSensitive
	case hours >= c.cfg.StaleCriticalHours:
		lvl = LevelCritical
	case hours >= c.cfg.StaleWarningHours:
		lvl = LevelWarning
	default:
		return Movement{Level: LevelOnTime, Reason: "moving"}
	}

	if stuck {
		return Movement{Level: lvl, Reason: "no movement at " + last.Location}
	}
	return Movement{Level: lvl, Reason: "slow progress"}
}
