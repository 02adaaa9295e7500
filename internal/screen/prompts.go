package screen

import (
	"fmt"
	"strings"

	"github.com/verifyd/screening-worker/internal/domain"
)

// Human-readable names for the known document types.
var documentTypeNames = map[string]string{
	domain.DocTypeKTP:  "national identity card (KTP)",
	domain.DocTypeNPWP: "taxpayer identification card (NPWP)",
	domain.DocTypeBPKB: "vehicle ownership book (BPKB)",
	domain.DocTypeSHM:  "land ownership certificate (SHM)",
	domain.DocTypeNIB:  "business identification number certificate (NIB)",
	domain.DocTypeSKU:  "business operation letter (SKU)",
}

// documentPrompt builds the screening instruction for a document chunk.
// The model must answer with a single fenced JSON object so the merger can
// extract it.
func documentPrompt(docType string, chunkIndex, chunkTotal int) string {
	name, ok := documentTypeNames[docType]
	if !ok {
		name = docType + " document"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are screening pages of a %s for a KYC back-office review. ", name)
	if chunkTotal > 1 {
		fmt.Fprintf(&b, "These pages are part %d of %d of the document. ", chunkIndex, chunkTotal)
	}
	b.WriteString("Check that the document is legible, complete, of the expected type, ")
	b.WriteString("and free of signs of tampering, then extract the key fields.\n\n")
	b.WriteString("Respond with exactly one JSON object inside a ```json fence with these fields:\n")
	b.WriteString(`- "status": "Good" if the document passes screening, otherwise "Bad"` + "\n")
	b.WriteString(`- "validation_reason": short explanation of the status` + "\n")
	b.WriteString(`- "quality_analysis": notes on legibility and completeness` + "\n")
	b.WriteString(`- "extracted_fields": object with the fields read from the document` + "\n")
	b.WriteString(`- "confidence": number between 0 and 1` + "\n")
	return b.String()
}

// analysisPrompt builds the instruction for a text analysis job.
func analysisPrompt(job *domain.Job) string {
	subject := "the individual"
	if job.EntityType == domain.EntityCorporate {
		subject = "the company"
	}

	var b strings.Builder
	switch {
	case strings.Contains(job.AnalysisType, "pep"):
		fmt.Fprintf(&b, "Determine whether %s %q is a politically exposed person. ", subject, job.Name)
	case strings.Contains(job.AnalysisType, "negative-news"):
		fmt.Fprintf(&b, "Search for negative news coverage about %s %q. ", subject, job.Name)
	case strings.Contains(job.AnalysisType, "law-involvement"):
		fmt.Fprintf(&b, "Search for legal proceedings or law enforcement involvement of %s %q. ", subject, job.Name)
	default:
		fmt.Fprintf(&b, "Perform a %s screening of %s %q. ", job.AnalysisType, subject, job.Name)
	}

	if job.AdditionalContext != "" {
		fmt.Fprintf(&b, "Additional context: %s. ", job.AdditionalContext)
	}

	b.WriteString("\n\nRespond with exactly one JSON object inside a ```json fence with these fields:\n")
	b.WriteString(`- "status": "Good" if no adverse findings, otherwise "Bad"` + "\n")
	b.WriteString(`- "summary": one-paragraph summary of the findings` + "\n")
	b.WriteString(`- "details": list of individual findings, each with a date and source` + "\n")
	b.WriteString(`- "confidence": number between 0 and 1` + "\n")
	b.WriteString("Cite your sources.")
	return b.String()
}
