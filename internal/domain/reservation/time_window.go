package reservation

import (
	"time"
)

// 壁時計入力の書式
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
	// endOfDay は終了時刻にのみ許可する日付末尾の表記
	endOfDay = "24:00"
)

// TimeWindow は半開区間 [Start, End) を表す
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// NewTimeWindow は検証済みの時間帯を作成する
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	w := TimeWindow{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return TimeWindow{}, err
	}
	return w, nil
}

// ParseWallClock は日付と開始・終了時刻（HH:MM）を loc の絶対時刻に変換する
// 終了時刻の "24:00" は翌日0時として扱う
func ParseWallClock(date, startTime, endTime string, loc *time.Location) (TimeWindow, error) {
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return TimeWindow{}, ErrInvalidDate
	}
	start, err := clockOn(day, startTime, loc)
	if err != nil {
		return TimeWindow{}, err
	}
	var end time.Time
	if endTime == endOfDay {
		end = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
	} else if end, err = clockOn(day, endTime, loc); err != nil {
		return TimeWindow{}, err
	}
	return NewTimeWindow(start, end)
}

func clockOn(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return time.Time{}, ErrInvalidClock
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

// DayWindow は loc における day の暦日全体 [0:00, 翌0:00) を返す
func DayWindow(day time.Time, loc *time.Location) TimeWindow {
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return TimeWindow{Start: start, End: time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc)}
}

// Validate は End > Start を検証する
func (w TimeWindow) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return ErrInvalidTimeWindow
	}
	if !w.End.After(w.Start) {
		return ErrInvalidTimeWindow
	}
	return nil
}

// Overlaps は半開区間として重なるかを返す（接しているだけなら重ならない）
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return w.Start.Before(other.End) && w.End.After(other.Start)
}

// Duration は時間帯の長さを返す
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// FormatWallClock は時間帯を loc の日付と開始・終了時刻（HH:MM）に戻す
// 翌日0時ちょうどに終わる場合の終了時刻は "24:00" と表記する
func FormatWallClock(w TimeWindow, loc *time.Location) (date, startTime, endTime string) {
	start := w.Start.In(loc)
	end := w.End.In(loc)
	date = start.Format(DateLayout)
	startTime = start.Format(TimeLayout)
	endTime = end.Format(TimeLayout)
	nextDay := time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, loc)
	if end.Equal(nextDay) {
		endTime = endOfDay
	}
	return date, startTime, endTime
}
