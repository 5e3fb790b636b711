package handlers

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type bindTarget struct {
	Reference string `json:"reference"`
	TermsDays int    `json:"payment_terms_days"`
}

func TestBindNestedOrFlat(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name        string
		key         string
		body        string
		expected    bindTarget
		expectError bool
	}{
		{
			name:     "Nested Structure",
			key:      "contract",
			body:     `{"contract": {"reference": "MSA-1", "payment_terms_days": 30}}`,
			expected: bindTarget{Reference: "MSA-1", TermsDays: 30},
		},
		{
			name:     "Flat Structure",
			key:      "contract",
			body:     `{"reference": "MSA-2", "payment_terms_days": 45}`,
			expected: bindTarget{Reference: "MSA-2", TermsDays: 45},
		},
		{
			name:     "Missing Key Falls Back To Flat",
			key:      "contract",
			body:     `{"other": "value", "reference": "MSA-3", "payment_terms_days": 60}`,
			expected: bindTarget{Reference: "MSA-3", TermsDays: 60},
		},
		{
			name:     "Different Key",
			key:      "user",
			body:     `{"user": {"reference": "U-1"}}`,
			expected: bindTarget{Reference: "U-1"},
		},
		{
			name:        "Invalid Flat Content",
			key:         "contract",
			body:        `{"reference": "MSA-4", "payment_terms_days": "thirty"}`,
			expectError: true,
		},
		{
			name:        "Invalid Nested Content",
			key:         "contract",
			body:        `{"contract": {"payment_terms_days": "thirty"}}`,
			expectError: true,
		},
		{
			name:        "Nested Key With Wrong Type",
			key:         "contract",
			body:        `{"contract": "MSA-5"}`,
			expectError: true,
		},
		{
			name:        "Empty Body",
			key:         "contract",
			body:        "  ",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest("POST", "/", bytes.NewBufferString(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			var result bindTarget
			err := BindNestedOrFlat(c, tt.key, &result)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}
