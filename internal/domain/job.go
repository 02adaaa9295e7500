// Package domain defines the core types shared across the screening worker.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// JobType identifies what kind of screening a job requests.
type JobType string

const (
	// JobTypeDocument is a document screening job (scanned identity or
	// ownership documents rendered to image content units).
	JobTypeDocument JobType = "document"

	// JobTypeTextAnalysis is a name/text screening job (PEP, negative news,
	// law involvement lookups).
	JobTypeTextAnalysis JobType = "text_analysis"
)

// Known document types for document screening jobs.
const (
	DocTypeKTP  = "ktp"
	DocTypeNPWP = "npwp"
	DocTypeBPKB = "bpkb"
	DocTypeSHM  = "shm"
	DocTypeNIB  = "nib"
	DocTypeSKU  = "sku"
)

// Entity types for text analysis jobs.
const (
	EntityIndividual = "individual"
	EntityCorporate  = "corporate"
)

var (
	// ErrMissingJobID indicates a message without a job identifier.
	ErrMissingJobID = errors.New("missing job_id")

	// ErrUnknownJobType indicates an unrecognized job_type value.
	ErrUnknownJobType = errors.New("unknown job_type")
)

// Message is the inbound queue envelope. It carries the union of all job
// fields plus the completion fields a result echo would have; the dispatcher
// classifies it before turning it into a Job.
type Message struct {
	JobID   string `json:"job_id"`
	JobType string `json:"job_type"`

	// Document screening fields.
	DocumentType string   `json:"document_type,omitempty"`
	FileURLs     []string `json:"file_urls,omitempty"`
	Filename     string   `json:"filename,omitempty"`

	// Text analysis fields.
	AnalysisType      string `json:"analysis_type,omitempty"`
	EntityType        string `json:"entity_type,omitempty"`
	Name              string `json:"name,omitempty"`
	AdditionalContext string `json:"additional_context,omitempty"`
	ModelName         string `json:"model_name,omitempty"`

	// Completion fields present on result echoes.
	Status      string          `json:"status,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	ProcessedAt string          `json:"processed_at,omitempty"`
}

// IsEcho reports whether the message is a published result looping back
// through the queue rather than a work request. Echoes carry the completion
// fields and lack the job-defining document type.
func (m *Message) IsEcho() bool {
	return m.Status != "" && len(m.Result) > 0 && m.ProcessedAt != "" && m.DocumentType == ""
}

// Job is a validated unit of screening work.
type Job struct {
	ID   string
	Type JobType

	DocumentType string
	FileURLs     []string
	Filename     string

	AnalysisType      string
	EntityType        string
	Name              string
	AdditionalContext string
	ModelName         string
}

// Result is the structured output of a completed job.
type Result map[string]any

// JobFromMessage validates a message and converts it into a Job.
// Validation failures are terminal for the job; they are never retried.
func JobFromMessage(m *Message) (*Job, error) {
	if m.JobID == "" {
		return nil, ErrMissingJobID
	}

	job := &Job{
		ID:                m.JobID,
		DocumentType:      m.DocumentType,
		FileURLs:          m.FileURLs,
		Filename:          m.Filename,
		AnalysisType:      m.AnalysisType,
		EntityType:        m.EntityType,
		Name:              m.Name,
		AdditionalContext: m.AdditionalContext,
		ModelName:         m.ModelName,
	}

	switch JobType(m.JobType) {
	case JobTypeDocument:
		job.Type = JobTypeDocument
		return job, validateDocumentJob(job)
	case JobTypeTextAnalysis:
		job.Type = JobTypeTextAnalysis
		return job, validateTextAnalysisJob(job)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, m.JobType)
	}
}

func validateDocumentJob(job *Job) error {
	if job.DocumentType == "" {
		job.DocumentType = DetectDocumentType(job.Filename)
	}
	if job.DocumentType == "" {
		return errors.New("document job missing document_type")
	}
	if len(job.FileURLs) == 0 {
		return errors.New("document job missing file_urls")
	}
	if job.Filename == "" {
		return errors.New("document job missing filename")
	}
	return nil
}

func validateTextAnalysisJob(job *Job) error {
	if job.AnalysisType == "" {
		return errors.New("text analysis job missing analysis_type")
	}
	if job.EntityType != EntityIndividual && job.EntityType != EntityCorporate {
		return fmt.Errorf("text analysis job has invalid entity_type %q", job.EntityType)
	}
	if job.Name == "" {
		return errors.New("text analysis job missing name")
	}
	return nil
}

// DetectDocumentType guesses a document type from the filename.
// Returns "" when no known type matches.
func DetectDocumentType(filename string) string {
	name := strings.ToLower(filename)
	for _, dt := range []string{DocTypeKTP, DocTypeNPWP, DocTypeBPKB, DocTypeSHM, DocTypeNIB, DocTypeSKU} {
		if strings.Contains(name, dt) {
			return dt
		}
	}
	return ""
}
