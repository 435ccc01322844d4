package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJSONMapGetString(t *testing.T) {
	tests := []struct {
		name     string
		m        JSONMap
		key      string
		expected string
	}{
		{
			name:     "string value",
			m:        JSONMap{"task_arn": "arn:aws:ecs:task/abc"},
			key:      "task_arn",
			expected: "arn:aws:ecs:task/abc",
		},
		{
			name:     "missing key",
			m:        JSONMap{"task_arn": "arn"},
			key:      "function_arn",
			expected: "",
		},
		{
			name:     "non-string value",
			m:        JSONMap{"replicas": float64(3)},
			key:      "replicas",
			expected: "",
		},
		{
			name:     "nil map",
			m:        nil,
			key:      "task_arn",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.m.GetString(tt.key))
		})
	}
}

func TestPlanGBHours(t *testing.T) {
	plan := &Plan{Metadata: JSONMap{"gb_hours": float64(25)}}
	assert.Equal(t, 25.0, plan.GBHours())

	// String metadata is not coerced
	plan = &Plan{Metadata: JSONMap{"gb_hours": "25"}}
	assert.Equal(t, 0.0, plan.GBHours())

	plan = &Plan{}
	assert.Equal(t, 0.0, plan.GBHours())
}

func TestRunDuration(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Minute)

	open := &ServerRunStatistics{Start: start}
	assert.Equal(t, 90*time.Minute, open.Duration(now))

	stop := start.Add(time.Hour)
	closed := &ServerRunStatistics{Start: start, Stop: &stop}
	assert.Equal(t, time.Hour, closed.Duration(now))

	// Clock skew never yields a negative duration
	skewed := &ServerRunStatistics{Start: now.Add(time.Minute)}
	assert.Equal(t, time.Duration(0), skewed.Duration(now))
}

func TestServerConfigHelpers(t *testing.T) {
	server := &Server{}
	assert.Empty(t, server.TaskDefinitionARN())

	server.SetConfig(ConfigTaskDefinitionARN, "arn:aws:ecs:task-definition/userspace:7")
	server.SetConfig(ConfigTaskARN, "arn:aws:ecs:task/xyz")

	assert.Equal(t, "arn:aws:ecs:task-definition/userspace:7", server.TaskDefinitionARN())
	assert.Equal(t, "arn:aws:ecs:task/xyz", server.TaskARN())
}
