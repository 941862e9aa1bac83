package domain

import (
	"math"
	"time"

	"example.com/smartcheck/internal/geo"
)

// Default admission parameters.
const (
	DefaultReplayTolerance     = 60 * time.Second
	DefaultGeofenceRadiusMeter = 100.0
)

// Signer verifies a detached signature over a message.
type Signer interface {
	Verify(message []byte, signature string) bool
}

// SignatureVerifier authenticates geolocation payloads against the shared secret.
type SignatureVerifier struct {
	signer Signer
}

// NewSignatureVerifier constructs a SignatureVerifier.
func NewSignatureVerifier(signer Signer) *SignatureVerifier {
	return &SignatureVerifier{signer: signer}
}

// Verify reports whether signature authenticates payload. Any failure to build the
// canonical form counts as a mismatch.
func (v *SignatureVerifier) Verify(payload GeoPayload, signature string) bool {
	if v == nil || v.signer == nil {
		return false
	}
	message, err := payload.Canonical()
	if err != nil {
		return false
	}
	return v.signer.Verify(message, signature)
}

// Check is Verify expressed as an admission error.
func (v *SignatureVerifier) Check(payload GeoPayload, signature string) error {
	if !v.Verify(payload, signature) {
		return authenticationFailure()
	}
	return nil
}

// ReplayGuard rejects readings captured too far from the current time, in either
// direction.
type ReplayGuard struct {
	Tolerance time.Duration
}

// CheckFreshness fails with a stale submission error when |now - timestamp|
// exceeds the tolerance. The boundary itself is accepted. A zero or negative
// tolerance means DefaultReplayTolerance.
func (g ReplayGuard) CheckFreshness(timestampMillis int64, now time.Time) error {
	tolerance := g.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultReplayTolerance
	}

	nowMillis := now.UnixMilli()
	toleranceMillis := tolerance.Milliseconds()
	if timestampMillis >= nowMillis-toleranceMillis && timestampMillis <= nowMillis+toleranceMillis {
		return nil
	}

	// Unsigned arithmetic keeps the distance exact for any pair of int64 values.
	var diff uint64
	if timestampMillis < nowMillis {
		diff = uint64(nowMillis) - uint64(timestampMillis)
	} else {
		diff = uint64(timestampMillis) - uint64(nowMillis)
	}
	return staleSubmission(int64(diff / 1000))
}

// GeofenceEvaluator admits positions inside a target's circular boundary.
type GeofenceEvaluator struct {
	DefaultRadiusMeters float64
}

// RadiusFor returns the effective radius of target.
func (g GeofenceEvaluator) RadiusFor(target Target) float64 {
	if target.RadiusMeters != nil {
		return *target.RadiusMeters
	}
	if g.DefaultRadiusMeters > 0 {
		return g.DefaultRadiusMeters
	}
	return DefaultGeofenceRadiusMeter
}

// Evaluate checks the claimed position against target. Targets without a center
// are not geofenced. Distances are compared at whole-meter resolution and the
// radius itself is inside the fence; the error carries the exact distance.
func (g GeofenceEvaluator) Evaluate(lat, lng float64, target Target) error {
	if !target.HasCenter() {
		return nil
	}
	radius := g.RadiusFor(target)
	distance := geo.Distance(lat, lng, *target.Latitude, *target.Longitude)
	if math.Round(distance) > radius {
		return outOfRange(distance, radius)
	}
	return nil
}
