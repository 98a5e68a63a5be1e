package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeISBN(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare 13 digits", "9780451524935", "9780451524935"},
		{"bare 10 digits", "0451524934", "0451524934"},
		{"hyphenated", "978-0-451-52493-5", "9780451524935"},
		{"spaced", "978 0451 524935", "9780451524935"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeISBN(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeISBNRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"letters", "97804515249ab"},
		{"too short", "12345"},
		{"eleven digits", "12345678901"},
		{"too long", "97804515249351"},
		{"punctuation", "978_0451524935"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeISBN(tt.in)
			assert.ErrorIs(t, err, ErrInvalidISBN)
		})
	}
}

func TestReservationTransitions(t *testing.T) {
	allowed := map[[2]ReservationStatus]bool{
		{ReservationStatusPending, ReservationStatusReady}:     true,
		{ReservationStatusPending, ReservationStatusFulfilled}: true,
		{ReservationStatusPending, ReservationStatusCancelled}: true,
		{ReservationStatusReady, ReservationStatusFulfilled}:   true,
		{ReservationStatusReady, ReservationStatusCancelled}:   true,
	}

	statuses := []ReservationStatus{
		ReservationStatusPending,
		ReservationStatusReady,
		ReservationStatusFulfilled,
		ReservationStatusCancelled,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]ReservationStatus{from, to}]
			assert.Equalf(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatusValidation(t *testing.T) {
	assert.True(t, FineStatusOpen.Valid())
	assert.True(t, FineStatusPaid.Valid())
	assert.True(t, FineStatusWaived.Valid())
	assert.False(t, FineStatus("settled").Valid())
	assert.False(t, FineStatus("").Valid())

	assert.True(t, ReservationStatusPending.Valid())
	assert.True(t, ReservationStatusCancelled.Valid())
	assert.False(t, ReservationStatus("Parked").Valid())
	assert.False(t, ReservationStatus("").Valid())
}
