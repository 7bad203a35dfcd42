// Package chatcontext assembles the conversation history sent to the
// language model: merging a fresh window with stored messages, trimming it
// to a token budget and rendering it with the system preamble.
package chatcontext

import (
	"github.com/xaenox/edubot/internal/models"
)

func contains(list []models.MessageInfo, m models.MessageInfo) bool {
	for _, o := range list {
		if o.Equal(m) {
			return true
		}
	}
	return false
}

// Candidates selects the stored messages that may be merged into window:
// those later than the first window entry and not already part of it.
func Candidates(window []models.MessageInfo, stored []models.MessageInfo) []models.MessageInfo {
	if len(window) == 0 {
		return nil
	}

	var pool []models.MessageInfo
	for _, m := range stored {
		if !m.Time.After(window[0].Time) || contains(window, m) {
			continue
		}
		pool = append(pool, m)
	}
	return pool
}

// Merge interleaves stored messages (usually image captions written out of
// band) into the chronologically sorted window.
//
// A pool entry is placed immediately before the first window entry it
// precedes, provided it is also later than the window entry before that.
// Entries that are not earlier than the last window entry are dropped.
func Merge(window []models.MessageInfo, stored []models.MessageInfo) []models.MessageInfo {
	pool := Candidates(window, stored)
	merged := make([]models.MessageInfo, 0, len(window)+len(pool))

	for i, msg := range window {
		var remaining []models.MessageInfo
		for _, extra := range pool {
			fits := extra.Time.Before(msg.Time)
			if i > 0 {
				fits = fits && extra.Time.After(window[i-1].Time)
			}

			if fits {
				merged = append(merged, extra)
			} else {
				remaining = append(remaining, extra)
			}
		}
		pool = remaining

		merged = append(merged, msg)
	}

	return merged
}
