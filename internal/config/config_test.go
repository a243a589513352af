package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateClampsMinSendGap(t *testing.T) {
	c := Default()
	c.Pacing.MinSendGapMS = 500
	c.Validate()
	assert.Equal(t, minSendGapFloorMS, c.Pacing.MinSendGapMS)
}

func TestValidateResetsEmptyBackoff(t *testing.T) {
	c := Default()
	c.Pacing.DMResendBackoffSeconds = nil
	c.Validate()
	assert.Equal(t, []int{4, 8, 16}, c.Pacing.DMResendBackoffSeconds)
}

func TestValidateResetsAllNonPositiveBackoff(t *testing.T) {
	c := Default()
	c.Pacing.DMResendBackoffSeconds = []int{0, -1, -5}
	c.Validate()
	assert.Equal(t, []int{4, 8, 16}, c.Pacing.DMResendBackoffSeconds)
}

func TestValidateDropsNonPositiveEntriesKeepingPositive(t *testing.T) {
	c := Default()
	c.Pacing.DMResendBackoffSeconds = []int{5, -1, 10}
	c.Validate()
	assert.Equal(t, []int{5, 10}, c.Pacing.DMResendBackoffSeconds)
}

func TestValidateEnforcesHelpBroadcastFloor(t *testing.T) {
	c := Default()
	c.Pacing.PostDMBroadcastGapMS = 1200
	c.Pacing.MinSendGapMS = 2000
	c.Pacing.HelpBroadcastDelayMS = 100
	c.Validate()
	assert.Equal(t, 3200, c.Pacing.HelpBroadcastDelayMS)
}
