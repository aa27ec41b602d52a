package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"loupe/internal/store"
)

// tagStatView is a TagStat with its share of the day's tracked time.
type tagStatView struct {
	store.TagStat
	Percent float64 `json:"percent"`
}

// trackedTotal sums stat seconds, leaving Away out: locked and idle time is
// recorded but does not count as tracked activity.
func trackedTotal(stats []store.TagStat) float64 {
	var total float64
	for _, st := range stats {
		if st.TagName == store.TagAway {
			continue
		}
		total += st.Seconds
	}
	return total
}

func statViews(stats []store.TagStat, total float64) []tagStatView {
	views := make([]tagStatView, 0, len(stats))
	for _, st := range stats {
		v := tagStatView{TagStat: st}
		if total > 0 && st.TagName != store.TagAway {
			v.Percent = st.Seconds / total * 100
		}
		views = append(views, v)
	}
	return views
}

// dateParam reads a YYYY-MM-DD query value, defaulting to today.
func dateParam(c *gin.Context, key string) (string, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Now().Format("2006-01-02"), true
	}
	if _, err := time.ParseInLocation("2006-01-02", raw, time.Local); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid %s %q, want YYYY-MM-DD", key, raw)
		return "", false
	}
	return raw, true
}

func (s *Server) handleDailyDashboard(c *gin.Context) {
	date, ok := dateParam(c, "date")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	stats, err := s.store.StatsByTag(ctx, date, date)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	processes, err := s.store.TopProcesses(ctx, date, date, 10)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	summary, err := s.store.DaySummary(ctx, date)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}

	total := trackedTotal(stats)
	c.JSON(http.StatusOK, gin.H{
		"date":                     date,
		"total_seconds":            total,
		"tag_stats":                statViews(stats, total),
		"top_processes":            processes,
		"activity_count":           summary.ActivityCount,
		"first_activity":           summary.FirstActivity,
		"last_activity":            summary.LastActivity,
		"tag_switches":             summary.TagSwitches,
		"target_daily_hours":       s.store.SettingFloat(ctx, store.SettingTargetDailyHours, 7),
		"target_distraction_ratio": s.store.SettingFloat(ctx, store.SettingTargetDistraction, 20),
	})
}

// dailyStack is one day's per-tag breakdown inside a period response.
type dailyStack struct {
	Date string               `json:"date"`
	Tags []store.DailyTagStat `json:"tags"`
}

func (s *Server) handlePeriodDashboard(c *gin.Context) {
	start, ok := dateParam(c, "start")
	if !ok {
		return
	}
	end, ok := dateParam(c, "end")
	if !ok {
		return
	}
	if start > end {
		jsonError(c, http.StatusBadRequest, "start %s is after end %s", start, end)
		return
	}
	ctx := c.Request.Context()

	stats, err := s.store.StatsByTag(ctx, start, end)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	processes, err := s.store.TopProcesses(ctx, start, end, 10)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	domains, err := s.store.DomainStats(ctx, start, end, 10)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	daily, err := s.store.DailyTagStats(ctx, start, end)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}

	// DailyTagStats is ordered by day; fold it into one stack per date.
	var stacks []dailyStack
	for _, st := range daily {
		if len(stacks) == 0 || stacks[len(stacks)-1].Date != st.Date {
			stacks = append(stacks, dailyStack{Date: st.Date})
		}
		last := &stacks[len(stacks)-1]
		last.Tags = append(last.Tags, st)
	}

	total := trackedTotal(stats)
	c.JSON(http.StatusOK, gin.H{
		"start":         start,
		"end":           end,
		"total_seconds": total,
		"tag_stats":     statViews(stats, total),
		"top_processes": processes,
		"top_domains":   domains,
		"daily_stacks":  stacks,
	})
}

// hourBucket is one of the 24 slots in an hourly response.
type hourBucket struct {
	Hour int                `json:"hour"`
	Tags []store.HourlyStat `json:"tags"`
}

func (s *Server) handleHourlyDashboard(c *gin.Context) {
	date, ok := dateParam(c, "date")
	if !ok {
		return
	}

	stats, err := s.store.HourlyStats(c.Request.Context(), date)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}

	buckets := make([]hourBucket, 24)
	for h := range buckets {
		buckets[h].Hour = h
		buckets[h].Tags = []store.HourlyStat{}
	}
	for _, st := range stats {
		if st.Hour < 0 || st.Hour > 23 {
			continue
		}
		buckets[st.Hour].Tags = append(buckets[st.Hour].Tags, st)
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "hours": buckets})
}

func (s *Server) handleTimeline(c *gin.Context) {
	date, ok := dateParam(c, "date")
	if !ok {
		return
	}
	var tagID *int64
	if raw := c.Query("tag_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			jsonError(c, http.StatusBadRequest, "invalid tag_id %q", raw)
			return
		}
		tagID = &id
	}

	activities, err := s.store.ListActivities(c.Request.Context(), date, tagID)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	if activities == nil {
		activities = []store.Activity{}
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "activities": activities})
}
