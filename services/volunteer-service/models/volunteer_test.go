package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVolunteerUpdateSet(t *testing.T) {
	now := time.Now()
	yes := true
	no := false

	tests := []struct {
		name  string
		patch VolunteerUpdate
		want  map[string]interface{}
	}{
		{
			name:  "skills only",
			patch: VolunteerUpdate{Skills: []string{"first-aid", "search-rescue"}},
			want:  map[string]interface{}{"skills": []string{"first-aid", "search-rescue"}},
		},
		{
			name:  "availability only",
			patch: VolunteerUpdate{IsAvailable: &no},
			want:  map[string]interface{}{"is_available": false},
		},
		{
			name:  "skills and availability",
			patch: VolunteerUpdate{Skills: []string{"medical"}, IsAvailable: &yes},
			want:  map[string]interface{}{"skills": []string{"medical"}, "is_available": true},
		},
		{
			name:  "clearing skills with an empty list",
			patch: VolunteerUpdate{Skills: []string{}},
			want:  map[string]interface{}{"skills": []string{}},
		},
		{
			name:  "empty patch",
			patch: VolunteerUpdate{},
			want:  map[string]interface{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := tt.patch.Set(now)

			assert.Equal(t, now, set["updated_at"], "every patch bumps updated_at")
			delete(set, "updated_at")

			assert.Len(t, set, len(tt.want))
			for field, value := range tt.want {
				assert.Equal(t, value, set[field])
			}
		})
	}
}
