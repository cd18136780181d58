package registry

import (
	"fmt"
	"io"

	"github.com/noslate-project/alice/internal/domain"
	"gopkg.in/yaml.v3"
)

// ProfileSet is the YAML document shape a profile set is authored in:
// a list under `functions`, mirroring oriys-nova's multi-document
// function spec parser but collapsed to a single list since the whole
// set is replaced atomically (spec.md §3).
type ProfileSet struct {
	Functions []domain.Profile `yaml:"functions"`
}

// ParseProfileSet decodes and validates a profile set document.
func ParseProfileSet(r io.Reader) ([]domain.Profile, error) {
	var doc ProfileSet
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode profile set: %w", err)
	}
	for i := range doc.Functions {
		if err := Validate(&doc.Functions[i]); err != nil {
			return nil, fmt.Errorf("profile %q: %w", doc.Functions[i].Name, err)
		}
	}
	return doc.Functions, nil
}

// Validate checks the minimal structural requirements spec.md §1 defers
// to "JSON-schema validation of profiles" for, plus the defaults this
// control plane actually depends on to avoid division by zero in
// Broker.evaluateWaterLevel.
func Validate(p *domain.Profile) error {
	if p.Name == "" {
		return fmt.Errorf("profile missing name")
	}
	if p.Runtime == "" {
		return fmt.Errorf("profile %q missing runtime", p.Name)
	}
	if p.Worker.MaxActivateRequests <= 0 {
		return fmt.Errorf("profile %q: worker.maxActivateRequests must be > 0", p.Name)
	}
	if p.Worker.ReplicaCountLimit <= 0 {
		return fmt.Errorf("profile %q: worker.replicaCountLimit must be > 0", p.Name)
	}
	if p.Worker.ShrinkRedundantTimes <= 0 {
		p.Worker.ShrinkRedundantTimes = 1
	}
	switch p.Worker.ShrinkStrategy {
	case domain.ShrinkLCC, domain.ShrinkFIFO, domain.ShrinkFILO, "":
	default:
		// Unknown strategies are accepted at ingestion per spec.md §9 open
		// question; Broker.shrinkDraw warns and falls back to LCC.
	}
	if p.ResourceLimit.MemoryBytes <= 0 {
		return fmt.Errorf("profile %q: resourceLimit.memoryBytes must be > 0", p.Name)
	}
	return nil
}
