package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldDeliver(t *testing.T) {
	tests := []struct {
		name string
		role string
		kind string
		want bool
	}{
		{"volunteer gets emergency alerts", "volunteer", kindNewEmergency, true},
		{"volunteer does not get admin alerts", "volunteer", kindAdminAlert, false},
		{"admin gets escalations", "admin", kindAdminAlert, true},
		{"super admin gets escalations", "super_admin", kindAdminAlert, true},
		{"admin does not get volunteer fan-out", "admin", kindNewEmergency, false},
		{"plain user gets nothing", "user", kindNewEmergency, false},
		{"unknown kind is dropped", "volunteer", "report.created", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &Client{UserID: "u1", Role: tt.role}
			assert.Equal(t, tt.want, shouldDeliver(client, tt.kind))
		})
	}
}
