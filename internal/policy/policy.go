// Package policy holds the tunable rules shared by derivation and exception
// routing: the confidence threshold, penalty weights, the policy-sensitive
// clause categories and the default reviewers.
package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Reviewer identifies who receives a routed exception.
type Reviewer struct {
	Name  string `yaml:"name" json:"name"`
	Email string `yaml:"email" json:"email"`
	Role  string `yaml:"role" json:"role"`
}

// Reviewers maps routing roles to concrete reviewers.
type Reviewers struct {
	Controller Reviewer `yaml:"controller"`
	CFO        Reviewer `yaml:"cfo"`
}

// Corroboration tunes how a pre-computed raw amount on a work event moves
// line confidence.
type Corroboration struct {
	Bonus     float64 `yaml:"bonus"`
	Penalty   float64 `yaml:"penalty"`
	Floor     float64 `yaml:"floor"`
	Tolerance float64 `yaml:"tolerance"`
}

// Policy is loaded once at startup and treated as read-only afterwards.
type Policy struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	AmbiguityPenalty    float64       `yaml:"ambiguity_penalty"`
	RoundingPenalty     float64       `yaml:"rounding_penalty"`
	Corroboration       Corroboration `yaml:"corroboration"`
	SensitiveCategories []string      `yaml:"sensitive_categories"`
	Reviewers           Reviewers     `yaml:"reviewers"`
}

// Default returns the built-in policy.
func Default() *Policy {
	return &Policy{
		ConfidenceThreshold: 0.80,
		AmbiguityPenalty:    0.10,
		RoundingPenalty:     0.05,
		Corroboration: Corroboration{
			Bonus:     0.05,
			Penalty:   0.15,
			Floor:     0.30,
			Tolerance: 0.05,
		},
		SensitiveCategories: []string{"revenue_recognition", "multi_element_arrangement"},
		Reviewers: Reviewers{
			Controller: Reviewer{Name: "Controller", Email: "controller@fintera.app", Role: "controller"},
			CFO:        Reviewer{Name: "CFO", Email: "cfo@fintera.app", Role: "cfo"},
		},
	}
}

// Load reads a YAML policy file on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// Validate rejects values that would make routing meaningless.
func (p *Policy) Validate() error {
	var errs []error
	if p.ConfidenceThreshold <= 0 || p.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence_threshold must be in (0,1], got %v", p.ConfidenceThreshold))
	}
	for name, v := range map[string]float64{
		"ambiguity_penalty":       p.AmbiguityPenalty,
		"rounding_penalty":        p.RoundingPenalty,
		"corroboration.bonus":     p.Corroboration.Bonus,
		"corroboration.penalty":   p.Corroboration.Penalty,
		"corroboration.floor":     p.Corroboration.Floor,
		"corroboration.tolerance": p.Corroboration.Tolerance,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0,1], got %v", name, v))
		}
	}
	if p.Reviewers.Controller.Email == "" {
		errs = append(errs, errors.New("reviewers.controller.email is required"))
	}
	if p.Reviewers.CFO.Email == "" {
		errs = append(errs, errors.New("reviewers.cfo.email is required"))
	}
	return errors.Join(errs...)
}

// IsSensitive reports whether a clause category requires elevated approval.
func (p *Policy) IsSensitive(category string) bool {
	c := strings.ToLower(strings.TrimSpace(category))
	if c == "" {
		return false
	}
	for _, s := range p.SensitiveCategories {
		if strings.ToLower(s) == c {
			return true
		}
	}
	return false
}
