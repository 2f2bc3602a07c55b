// Package seating computes seat assignments and validates seat-count changes.
// Everything here is pure: callers wrap the read-validate-allocate-write
// sequence in a store transaction.
package seating

import (
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/model"
)

var (
	// ErrSeatExhaustion is returned when fewer free seats exist than requested.
	ErrSeatExhaustion = errors.New("not enough free seats")
	// ErrCapacityExceeded is returned when a request would push the event over its total capacity.
	ErrCapacityExceeded = errors.New("event capacity exceeded")
	// ErrPerRegistrantCap is returned when a request exceeds the event's per-registrant cap.
	ErrPerRegistrantCap = errors.New("seat limit per registrant exceeded")
	// ErrInvalidSeatCount is returned for seat counts below one.
	ErrInvalidSeatCount = errors.New("seat count must be at least 1")
)

// Set is a set of occupied seat numbers.
type Set map[int]struct{}

// Occupied collects the seat numbers held by regs, skipping the registration
// with excludeID so it can be resized against its own prior allocation.
func Occupied(regs []model.Registration, excludeID string) Set {
	occupied := make(Set)
	for _, reg := range regs {
		if excludeID != "" && reg.ID == excludeID {
			continue
		}
		for _, n := range reg.SeatNumbers {
			occupied[n] = struct{}{}
		}
	}
	return occupied
}

// Allocate returns the count lowest-numbered seats in 1..total that are not
// occupied, in increasing order. It fails with ErrSeatExhaustion and returns
// no seats when fewer than count are free.
func Allocate(occupied Set, total, count int) ([]int, error) {
	if count < 1 {
		return nil, ErrInvalidSeatCount
	}
	seats := make([]int, 0, count)
	for n := 1; n <= total && len(seats) < count; n++ {
		if _, taken := occupied[n]; !taken {
			seats = append(seats, n)
		}
	}
	if len(seats) < count {
		return nil, fmt.Errorf("%w: requested %d, %d free", ErrSeatExhaustion, count, len(seats))
	}
	return seats, nil
}

// Request describes a seat-count change to validate.
type Request struct {
	// Requested is the new seat count.
	Requested int
	// Prior is the registration's current seat count, zero for a new registration.
	Prior int
	// Taken is the number of seats counted against capacity, excluding the
	// registration being changed.
	Taken int
}

// Validate checks a seat-count change against the event's limits before any
// mutation. Shrinking an existing registration is always allowed.
func Validate(ev *model.Event, req Request) error {
	if req.Requested < 1 {
		return ErrInvalidSeatCount
	}
	if req.Requested > ev.MaxPerRegistrant {
		return fmt.Errorf("%w: at most %d", ErrPerRegistrantCap, ev.MaxPerRegistrant)
	}
	if req.Prior > 0 && req.Requested <= req.Prior {
		return nil
	}
	if req.Taken+req.Requested > ev.TotalSeats {
		free := max(ev.TotalSeats-req.Taken, 0)
		return fmt.Errorf("%w: %d seats free", ErrCapacityExceeded, free)
	}
	return nil
}

// Taken sums the seats counted against the event's capacity, skipping
// excludeID. When confirmedOnly is set, unconfirmed registrations are ignored.
func Taken(regs []model.Registration, excludeID string, confirmedOnly bool) int {
	total := 0
	for _, reg := range regs {
		if excludeID != "" && reg.ID == excludeID {
			continue
		}
		if confirmedOnly && !reg.Confirmed {
			continue
		}
		total += reg.Seats
	}
	return total
}
