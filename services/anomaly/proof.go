package anomaly

import (
	"context"
	"regexp"
	"strings"

	"github.com/jinjinsansan/hachikai/pkg/objectstore"

	"go.uber.org/zap"
)

// Purchase-proof acceptance bounds.
const (
	proofMinSize   = 100_000    // 100KB
	proofMaxSize   = 10_000_000 // 10MB
	proofMaxAge    = scanWindow
	editorSoftware = "Photoshop"
)

var proofFormats = map[string]bool{
	"jpeg": true,
	"jpg":  true,
	"png":  true,
}

// OCR text must show an order number, a marketplace keyword and a price.
var (
	orderLabelPattern  = regexp.MustCompile(`(?i)order number|注文番号`)
	orderNumberPattern = regexp.MustCompile(`\d{3}-\d{7}-\d{7}`)
	marketplacePattern = regexp.MustCompile(`(?i)amazon|アマゾン`)
	pricePattern       = regexp.MustCompile(`[¥￥$]\s*[\d,]+`)
)

// ProofSubmission is a purchase-proof to validate. OCRText arrives
// pre-extracted; image processing is a collaborator concern.
type ProofSubmission struct {
	UserID    string `json:"user_id"`
	ObjectKey string `json:"object_key"`
	OCRText   string `json:"ocr_text"`
}

// ProofChecks itemises the sub-checks of one validation. All must pass.
type ProofChecks struct {
	ValidTimestamp bool `json:"valid_timestamp"`
	ValidSize      bool `json:"valid_size"`
	ValidFormat    bool `json:"valid_format"`
	ValidMetadata  bool `json:"valid_metadata"`
	ValidText      bool `json:"valid_text"`
}

func (c ProofChecks) AllPassed() bool {
	return c.ValidTimestamp && c.ValidSize && c.ValidFormat && c.ValidMetadata && c.ValidText
}

// ProofStatter is the subset of the object store used by proof validation.
type ProofStatter interface {
	Stat(ctx context.Context, objectKey string) (*objectstore.ProofStat, error)
}

// ValidateProof runs the composite authenticity check over a stored
// purchase-proof object. A failed check emits one critical
// fake_purchase_proof finding.
func (d *Detector) ValidateProof(ctx context.Context, proofs ProofStatter, sub ProofSubmission) (bool, error) {
	stat, err := proofs.Stat(ctx, sub.ObjectKey)
	if err != nil {
		return false, err
	}

	now := d.clock.Now()
	checks := ProofChecks{
		ValidTimestamp: !stat.LastModified.After(now) && now.Sub(stat.LastModified) <= proofMaxAge,
		ValidSize:      stat.Size >= proofMinSize && stat.Size <= proofMaxSize,
		ValidFormat:    proofFormats[formatOf(stat.ContentType)],
		ValidMetadata:  !strings.Contains(stat.Software, editorSoftware),
		ValidText:      validProofText(sub.OCRText),
	}

	if checks.AllPassed() {
		return true, nil
	}

	zap.L().Warn("purchase proof rejected",
		zap.String("user_id", sub.UserID), zap.String("object_key", sub.ObjectKey))

	finding := d.finding(sub.UserID, ViolationFakePurchaseProof, SeverityCritical,
		"tampered or invalid purchase proof",
		map[string]any{"object_key": sub.ObjectKey, "checks": checks})

	if err := d.record(ctx, []*SuspiciousActivity{finding}); err != nil {
		return false, err
	}
	return false, nil
}

func formatOf(contentType string) string {
	_, format, ok := strings.Cut(contentType, "/")
	if !ok {
		return strings.ToLower(contentType)
	}
	return strings.ToLower(format)
}

func validProofText(text string) bool {
	return orderLabelPattern.MatchString(text) &&
		orderNumberPattern.MatchString(text) &&
		marketplacePattern.MatchString(text) &&
		pricePattern.MatchString(text)
}
