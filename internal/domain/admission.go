package domain

import (
	"context"
	"time"

	"example.com/smartcheck/internal/observability"
)

// SubmitInput is one attendance submission.
type SubmitInput struct {
	Code        string
	Action      Action
	Payload     GeoPayload
	Signature   string
	Participant Participant
}

// Admission is the result of an accepted submission.
type Admission struct {
	Action Action
	Record AttendanceRecord
	Target Target
	Event  *Event
}

// Preview is the eligibility advisory for a scanned code.
type Preview struct {
	Target Target
	Event  *Event
	Status
}

// AdmissionConfig holds the process-wide admission parameters.
type AdmissionConfig struct {
	ReplayTolerance     time.Duration
	DefaultRadiusMeters float64
}

// AdmissionPipeline runs the ordered admission checks and, when all pass, the
// attendance transition.
type AdmissionPipeline struct {
	targets    TargetReader
	codes      *CodeService
	verifier   *SignatureVerifier
	replay     ReplayGuard
	fence      GeofenceEvaluator
	attendance *AttendanceService
	opts       options
}

// NewAdmissionPipeline constructs an AdmissionPipeline.
func NewAdmissionPipeline(targets TargetReader, codes *CodeService, verifier *SignatureVerifier, attendance *AttendanceService, cfg AdmissionConfig, opts ...Option) *AdmissionPipeline {
	return &AdmissionPipeline{
		targets:    targets,
		codes:      codes,
		verifier:   verifier,
		replay:     ReplayGuard{Tolerance: cfg.ReplayTolerance},
		fence:      GeofenceEvaluator{DefaultRadiusMeters: cfg.DefaultRadiusMeters},
		attendance: attendance,
		opts:       buildOptions(opts),
	}
}

// submission is the state threaded through the stages.
type submission struct {
	SubmitInput
	now    time.Time
	target *Target
	record *AttendanceRecord
}

type stage struct {
	name string
	run  func(context.Context, *submission) error
}

// stages lists the checks in execution order. Local checks come before anything
// that writes; the geofence only trusts coordinates after authentication.
func (p *AdmissionPipeline) stages() []stage {
	return []stage{
		{name: "resolve_code", run: p.resolveCode},
		{name: "signature", run: p.verifySignature},
		{name: "freshness", run: p.checkFreshness},
		{name: "geofence", run: p.checkGeofence},
		{name: "transition", run: p.transition},
	}
}

// Submit admits or rejects a submission. The first failing stage ends the run and
// its error is returned unchanged.
func (p *AdmissionPipeline) Submit(ctx context.Context, in SubmitInput) (*Admission, error) {
	if in.Action != ActionCheckIn && in.Action != ActionCheckOut {
		err := invalidAction(string(in.Action))
		observability.RecordAdmission(string(in.Action), string(err.Kind))
		return nil, err
	}

	sub := &submission{SubmitInput: in, now: p.opts.now()}
	for _, st := range p.stages() {
		started := time.Now()
		err := st.run(ctx, sub)
		observability.ObserveAdmissionStage(st.name, time.Since(started))
		if err != nil {
			observability.RecordAdmission(string(in.Action), outcomeOf(err))
			return nil, err
		}
	}
	observability.RecordAdmission(string(in.Action), "admitted")

	return &Admission{
		Action: in.Action,
		Record: *sub.record,
		Target: *sub.target,
		Event:  p.event(ctx, sub.target.EventID),
	}, nil
}

func (p *AdmissionPipeline) resolveCode(ctx context.Context, sub *submission) error {
	target, err := p.codes.Resolve(ctx, sub.Code)
	if err != nil {
		return err
	}
	sub.target = target
	return nil
}

func (p *AdmissionPipeline) verifySignature(_ context.Context, sub *submission) error {
	return p.verifier.Check(sub.Payload, sub.Signature)
}

func (p *AdmissionPipeline) checkFreshness(_ context.Context, sub *submission) error {
	return p.replay.CheckFreshness(sub.Payload.Timestamp, sub.now)
}

func (p *AdmissionPipeline) checkGeofence(_ context.Context, sub *submission) error {
	return p.fence.Evaluate(sub.Payload.Latitude, sub.Payload.Longitude, *sub.target)
}

func (p *AdmissionPipeline) transition(ctx context.Context, sub *submission) error {
	pos := Position{Latitude: sub.Payload.Latitude, Longitude: sub.Payload.Longitude}
	record, err := p.attendance.Apply(ctx, sub.Action, *sub.target, sub.Participant, pos, sub.now)
	if err != nil {
		return err
	}
	sub.record = record
	return nil
}

// Preview resolves the code and reports the participant's next action without
// changing state.
func (p *AdmissionPipeline) Preview(ctx context.Context, code string, participant Participant) (*Preview, error) {
	target, err := p.codes.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	status, err := p.attendance.Status(ctx, *target, participant.ID, p.opts.now())
	if err != nil {
		return nil, err
	}
	return &Preview{Target: *target, Event: p.event(ctx, target.EventID), Status: *status}, nil
}

// event loads display metadata. It only enriches responses, so a failed lookup
// is logged and yields nil.
func (p *AdmissionPipeline) event(ctx context.Context, eventID string) *Event {
	if eventID == "" {
		return nil
	}
	event, err := p.targets.GetEvent(ctx, eventID)
	if err != nil {
		p.opts.logger.Printf("event lookup failed (event=%s): %v", eventID, err)
		return nil
	}
	return event
}

func outcomeOf(err error) string {
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
