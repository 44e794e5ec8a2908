// Package models contains the domain models for the application.
package models

import (
	"time"
)

// ReservationStatus is the lifecycle state of a stay.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusUpcoming  ReservationStatus = "upcoming"
	StatusCurrent   ReservationStatus = "current"
	StatusCompleted ReservationStatus = "completed"
	StatusCancelled ReservationStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusUpcoming, StatusCurrent, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s ReservationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ReservationSource identifies the booking channel.
type ReservationSource string

const (
	SourceAirbnb ReservationSource = "airbnb"
	SourceDirect ReservationSource = "direct"
	SourceOther  ReservationSource = "other"
)

// Reservation is a locally managed stay.
type Reservation struct {
	ID              string            `json:"id"`
	GuestRef        string            `json:"userId"`
	GuestName       string            `json:"guestName,omitempty"`
	GuestPhone      string            `json:"guestPhone,omitempty"`
	CheckInDate     Date              `json:"checkInDate"`
	CheckOutDate    Date              `json:"checkOutDate"`
	CheckInTime     string            `json:"checkInTime"`
	CheckOutTime    string            `json:"checkOutTime"`
	Status          ReservationStatus `json:"status"`
	Source          ReservationSource `json:"source"`
	NumberOfGuests  int               `json:"numberOfGuests"`
	Notes           string            `json:"notes,omitempty"`
	TotalAmount     float64           `json:"totalAmount"`
	IsPaid          bool              `json:"isPaid"`
	ReservationCode string            `json:"reservationCode"`
	CreatedBy       string            `json:"createdBy,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Range returns the stay as a half-open date interval.
func (r *Reservation) Range() DateRange {
	return DateRange{Start: r.CheckInDate, End: r.CheckOutDate}
}

// Block implements Blocker.
func (r *Reservation) Block() Block {
	label := r.GuestName
	if label == "" {
		label = r.ReservationCode
	}
	return Block{Kind: BlockReservation, Ref: r.ID, Label: label, Range: r.Range()}
}

// Blocks implements Blocker. Cancelled stays and impossible ranges never block.
func (r *Reservation) Blocks() bool {
	return r.Status != StatusCancelled && r.Range().Valid()
}

// ReservationFilter narrows List queries.
type ReservationFilter struct {
	Status   ReservationStatus
	Period   Period
	GuestRef string
	Limit    int
}

// Period selects stays relative to today.
type Period string

const (
	PeriodAll      Period = "all"
	PeriodPast     Period = "past"
	PeriodCurrent  Period = "current"
	PeriodUpcoming Period = "upcoming"
)

// Valid reports whether p is a known period; empty means all.
func (p Period) Valid() bool {
	switch p {
	case "", PeriodAll, PeriodPast, PeriodCurrent, PeriodUpcoming:
		return true
	}
	return false
}

// ReservationBlockers returns each reservation as a Blocker.
func ReservationBlockers(reservations []Reservation) []Blocker {
	out := make([]Blocker, 0, len(reservations))
	for i := range reservations {
		out = append(out, &reservations[i])
	}
	return out
}
