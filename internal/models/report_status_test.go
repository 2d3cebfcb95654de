package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReportStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from ReportStatus
		to   ReportStatus
		want bool
	}{
		{ReportStatusPending, ReportStatusStarted, true},
		{ReportStatusPending, ReportStatusFailure, true},
		{ReportStatusStarted, ReportStatusSuccess, true},
		{ReportStatusStarted, ReportStatusFailure, true},
		{ReportStatusStarted, ReportStatusStarted, true},
		{ReportStatusStarted, ReportStatusPending, false},
		{ReportStatusSuccess, ReportStatusFailure, false},
		{ReportStatusFailure, ReportStatusSuccess, false},
		{ReportStatusSuccess, ReportStatusStarted, false},
		{ReportStatusPending, ReportStatus("RETRY"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestReportStatus_IsTerminal(t *testing.T) {
	assert.False(t, ReportStatusPending.IsTerminal())
	assert.False(t, ReportStatusStarted.IsTerminal())
	assert.True(t, ReportStatusSuccess.IsTerminal())
	assert.True(t, ReportStatusFailure.IsTerminal())
}
