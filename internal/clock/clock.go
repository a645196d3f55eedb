// Package clock implements the Market Clock: a pure, side-effect-free
// function from a localized instant to the Indonesian equities market's
// session state, grounded on the scheduling rules observed in the vendor's
// own daemon (Mon-Thu and Friday have different second-session windows, with
// a five-minute cushion on both ends of every session).
package clock

import (
	"time"

	"stockbit-capture/internal/models"
)

// Location is the fixed +07:00 offset the exchange trades in.
var Location = time.FixedZone("WIB", 7*3600)

type sessionWindow struct {
	startHour, startMin int
	endHour, endMin     int
}

func sessionsFor(weekday time.Weekday) (s1, s2 sessionWindow) {
	s1 = sessionWindow{8, 55, 12, 5}
	if weekday == time.Friday {
		s2 = sessionWindow{13, 55, 15, 54}
		s1 = sessionWindow{8, 55, 11, 35}
		return
	}
	s2 = sessionWindow{13, 25, 15, 54}
	return
}

func atTime(day time.Time, hour, min int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, day.Location())
}

func nextWeekday(from time.Time, target time.Weekday) time.Time {
	d := from.AddDate(0, 0, 1)
	for d.Weekday() != target {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// nextTradingOpen returns the 08:55 open instant of the next trading day
// strictly after `day`, skipping weekends.
func nextTradingOpen(day time.Time) time.Time {
	next := day.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return atTime(next, 8, 55)
}

// Evaluate computes the Market State at instant `now`. now is converted into
// Location before any comparison is made, so callers may pass any time.Time.
func Evaluate(now time.Time) models.MarketState {
	local := now.In(Location)
	weekday := local.Weekday()

	if weekday == time.Saturday || weekday == time.Sunday {
		nextOpen := atTime(nextWeekday(local, time.Monday), 8, 55)
		return models.MarketState{
			IsOpen:             false,
			Status:             models.StatusClosed,
			Reason:             models.ReasonWeekend,
			Session:            models.SessionNone,
			NextOpen:           nextOpen,
			TimeUntilNextEvent: nextOpen.Sub(local),
		}
	}

	s1, s2 := sessionsFor(weekday)
	s1Open := atTime(local, s1.startHour, s1.startMin)
	s1Close := atTime(local, s1.endHour, s1.endMin)
	s2Open := atTime(local, s2.startHour, s2.startMin)
	s2Close := atTime(local, s2.endHour, s2.endMin)

	switch {
	case local.Before(s1Open):
		return models.MarketState{
			IsOpen:             false,
			Status:             models.StatusClosed,
			Reason:             models.ReasonPre,
			Session:            models.SessionNone,
			NextOpen:           s1Open,
			TimeUntilNextEvent: s1Open.Sub(local),
		}
	case local.Before(s1Close):
		return models.MarketState{
			IsOpen:             true,
			Status:             models.StatusOpen,
			Session:            models.Session1,
			NextClose:          s1Close,
			TimeUntilNextEvent: s1Close.Sub(local),
		}
	case local.Before(s2Open):
		return models.MarketState{
			IsOpen:             false,
			Status:             models.StatusBreak,
			Session:            models.SessionNone,
			NextOpen:           s2Open,
			TimeUntilNextEvent: s2Open.Sub(local),
		}
	case local.Before(s2Close):
		return models.MarketState{
			IsOpen:             true,
			Status:             models.StatusOpen,
			Session:            models.Session2,
			NextClose:          s2Close,
			TimeUntilNextEvent: s2Close.Sub(local),
		}
	default:
		nextOpen := nextTradingOpen(local)
		return models.MarketState{
			IsOpen:             false,
			Status:             models.StatusClosed,
			Reason:             models.ReasonAfter,
			Session:            models.SessionNone,
			NextOpen:           nextOpen,
			TimeUntilNextEvent: nextOpen.Sub(local),
		}
	}
}
