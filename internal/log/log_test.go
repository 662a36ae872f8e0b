package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel(LevelInfo)

	tests := []struct {
		level     string
		debugOn   bool
		infoOn    bool
		warningOn bool
	}{
		{level: LevelDebug, debugOn: true, infoOn: true, warningOn: true},
		{level: LevelInfo, debugOn: false, infoOn: true, warningOn: true},
		{level: LevelWarn, debugOn: false, infoOn: false, warningOn: true},
		{level: LevelError, debugOn: false, infoOn: false, warningOn: false},
		{level: "bogus", debugOn: false, infoOn: true, warningOn: true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			SetLevel(tt.level)
			assert.Equal(t, tt.debugOn, Enabled(LevelDebug))
			assert.Equal(t, tt.infoOn, Enabled(LevelInfo))
			assert.Equal(t, tt.warningOn, Enabled(LevelWarn))
		})
	}
}

func TestEnabledUnknownLevel(t *testing.T) {
	assert.False(t, Enabled("loud"))
}
