package store

import "time"

// Reserved tag names. They are seeded on open and recreated on demand;
// alerting and blocking never apply to them.
const (
	TagAway         = "Away"
	TagUnclassified = "Unclassified"
)

// Sentinel process names produced by the monitor loop in place of a real
// foreground window.
const (
	ProcessLocked  = "__LOCKED__"
	ProcessIdle    = "__IDLE__"
	ProcessUnknown = "__UNKNOWN__"
)

// Tag classifies activities. Category is one of work, non_work, other.
type Tag struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Category string `json:"category"`

	AlertEnabled  bool   `json:"alert_enabled"`
	AlertMessage  string `json:"alert_message"`
	AlertCooldown int    `json:"alert_cooldown"`

	BlockEnabled bool   `json:"block_enabled"`
	BlockStart   string `json:"block_start"`
	BlockEnd     string `json:"block_end"`

	CreatedAt time.Time `json:"created_at"`
}

// Reserved reports whether the tag carries one of the reserved names.
func (t Tag) Reserved() bool {
	return t.Name == TagAway || t.Name == TagUnclassified
}

// Rule maps observations to a tag. Pattern slots are optional; glob slots
// accept comma-separated alternates, the browser profile slot is an exact
// match. Higher priority wins, ties resolve by insertion order.
type Rule struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
	TagID    int64  `json:"tag_id"`

	ProcessPattern     string `json:"process_pattern"`
	URLPattern         string `json:"url_pattern"`
	TitlePattern       string `json:"title_pattern"`
	BrowserProfile     string `json:"browser_profile"`
	ProcessPathPattern string `json:"process_path_pattern"`

	CreatedAt time.Time `json:"created_at"`
}

// Activity is one contiguous observation interval. EndTime is nil while the
// interval is open; TagID and RuleID become nil when their referents are
// deleted.
type Activity struct {
	ID             int64      `json:"id"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time"`
	ProcessName    string     `json:"process_name"`
	WindowTitle    string     `json:"window_title"`
	URL            *string    `json:"url"`
	BrowserProfile *string    `json:"browser_profile"`
	TagID          *int64     `json:"tag_id"`
	RuleID         *int64     `json:"rule_id"`
}

// NewActivity carries the fields the monitor supplies when opening a row.
type NewActivity struct {
	ProcessName    string
	WindowTitle    string
	URL            *string
	BrowserProfile *string
	TagID          int64
	RuleID         *int64
}

// MediaAsset points at a sound or image file under the data directory.
type MediaAsset struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
}

// Media asset kinds.
const (
	MediaSound = "sound"
	MediaImage = "image"
)

// TagStat is one row of a per-tag duration aggregate.
type TagStat struct {
	TagID       *int64  `json:"tag_id"`
	TagName     string  `json:"tag_name"`
	TagColor    string  `json:"tag_color"`
	TagCategory string  `json:"tag_category"`
	Seconds     float64 `json:"seconds"`
}

// HourlyStat is a per-tag duration attributed to the local start hour (0-23).
type HourlyStat struct {
	Hour    int     `json:"hour"`
	TagID   *int64  `json:"tag_id"`
	TagName string  `json:"tag_name"`
	Seconds float64 `json:"seconds"`
}

// ProcessStat aggregates time per sampled process name.
type ProcessStat struct {
	ProcessName string  `json:"process_name"`
	Seconds     float64 `json:"seconds"`
	Count       int     `json:"count"`
}

// DailyTagStat is a per-day, per-tag duration used for period stacks.
type DailyTagStat struct {
	Date     string  `json:"date"`
	TagID    *int64  `json:"tag_id"`
	TagName  string  `json:"tag_name"`
	TagColor string  `json:"tag_color"`
	Seconds  float64 `json:"seconds"`
}

// DaySummary holds headline numbers for one day.
type DaySummary struct {
	ActivityCount int        `json:"activity_count"`
	FirstActivity *time.Time `json:"first_activity"`
	LastActivity  *time.Time `json:"last_activity"`
	TagSwitches   int        `json:"tag_switches"`
}

// UnclassifiedGroup groups unmatched activities by process and title so the
// UI can offer bulk rule creation or deletion.
type UnclassifiedGroup struct {
	ProcessName string  `json:"process_name"`
	WindowTitle string  `json:"window_title"`
	Count       int     `json:"count"`
	Seconds     float64 `json:"seconds"`
	ActivityIDs []int64 `json:"activity_ids"`
}
