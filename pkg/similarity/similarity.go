// Package similarity classifies similarity scores for display.
//
// Two scales are in use on the wire: fractions in [0,1] (comparison results)
// and percentages in [0,100] (check results and history). Functions name the
// scale they expect.
package similarity

import (
	"fmt"
	"strings"
)

// Level is the backend plagiarism level of a check result.
type Level string

const (
	LevelNone   Level = "none"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Levels lists every level in ascending severity.
var Levels = []Level{LevelNone, LevelLow, LevelMedium, LevelHigh}

var levelLabels = map[Level]string{
	LevelNone:   "KHÔNG PHÁT HIỆN",
	LevelLow:    "THẤP",
	LevelMedium: "TRUNG BÌNH",
	LevelHigh:   "CAO",
}

var levelColors = map[Level]string{
	LevelNone:   "#52c41a",
	LevelLow:    "#52c41a",
	LevelMedium: "#faad14",
	LevelHigh:   "#ff4d4f",
}

var levelRank = map[Level]int{
	LevelNone:   0,
	LevelLow:    1,
	LevelMedium: 2,
	LevelHigh:   3,
}

// ParseLevel normalizes a level name. Unknown values are an error.
func ParseLevel(raw string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := levelRank[l]; !ok {
		return "", fmt.Errorf("unknown plagiarism level %q", raw)
	}
	return l, nil
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Label is the display text. Unknown levels render as LevelNone.
func (l Level) Label() string {
	if s, ok := levelLabels[l]; ok {
		return s
	}
	return levelLabels[LevelNone]
}

// Color is the display color. Unknown levels render as LevelNone.
func (l Level) Color() string {
	if c, ok := levelColors[l]; ok {
		return c
	}
	return levelColors[LevelNone]
}

// AtLeast reports whether l is as severe as other.
func (l Level) AtLeast(other Level) bool {
	return levelRank[l] >= levelRank[other]
}

// LevelForFraction derives the level from the best-match fraction the way the
// backend does: >=0.7 high, >=0.4 medium, >=0.2 low, else none.
func LevelForFraction(f float64) Level {
	switch {
	case f >= 0.7:
		return LevelHigh
	case f >= 0.4:
		return LevelMedium
	case f >= 0.2:
		return LevelLow
	default:
		return LevelNone
	}
}

// Tone is a coarse severity bucket for gauges and tags.
type Tone string

const (
	ToneLow    Tone = "low"
	ToneMedium Tone = "medium"
	ToneHigh   Tone = "high"
)

// BandInfo describes how a score is shown.
type BandInfo struct {
	Tone  Tone
	Label string
	Color string
}

var bands = map[Tone]BandInfo{
	ToneLow:    {Tone: ToneLow, Label: "Thấp", Color: "#52c41a"},
	ToneMedium: {Tone: ToneMedium, Label: "Trung bình", Color: "#faad14"},
	ToneHigh:   {Tone: ToneHigh, Label: "Cao", Color: "#ff4d4f"},
}

// Band classifies a fraction in [0,1] for the gauge: <0.3 low, <0.6 medium,
// otherwise high.
func Band(fraction float64) BandInfo {
	switch {
	case fraction < 0.3:
		return bands[ToneLow]
	case fraction < 0.6:
		return bands[ToneMedium]
	default:
		return bands[ToneHigh]
	}
}

// TagColor is the match-list tag color.
type TagColor string

const (
	TagGreen  TagColor = "green"
	TagOrange TagColor = "orange"
	TagRed    TagColor = "red"
)

// MatchBand classifies a percentage in [0,100] for the match list: >=70 red,
// >=40 orange, otherwise green.
func MatchBand(percent float64) TagColor {
	switch {
	case percent >= 70:
		return TagRed
	case percent >= 40:
		return TagOrange
	default:
		return TagGreen
	}
}

// Percent rounds a fraction to a whole percentage clamped to [0,100].
func Percent(fraction float64) int {
	p := fraction * 100
	switch {
	case p <= 0:
		return 0
	case p >= 100:
		return 100
	default:
		return int(p + 0.5)
	}
}
