// Package compliance computes license posture from inventory state: expiry
// windows, seat utilization, at-risk devices, and the recurring alert scan
// feeding the notification collaborator.
package compliance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"licentra.org/internal/alert"
	"licentra.org/internal/inventory"
	"licentra.org/internal/obs"
)

// SubjectLicense and SubjectDevice label the aggregate an alert key targets.
const (
	SubjectLicense = "LICENSE"
	SubjectDevice  = "DEVICE"
)

// Evaluator derives compliance findings from a store. All methods are
// side-effect free except EvaluateAlerts, which advances the persisted alert
// markers.
type Evaluator struct {
	store inventory.Store

	expiryWarn time.Duration // window ahead of ValidUntil that raises an expiry alert
	deviceRisk time.Duration // window that marks an assigned device at risk
	overRatio  float64       // utilization fraction that raises an alert

	log *zap.Logger
	now func() time.Time
}

// NewEvaluator builds an evaluator with the given thresholds.
func NewEvaluator(store inventory.Store, expiryWarnDays, deviceRiskWarnDays int, overRatio float64, log *zap.Logger) *Evaluator {
	if expiryWarnDays <= 0 {
		expiryWarnDays = 30
	}
	if deviceRiskWarnDays <= 0 {
		deviceRiskWarnDays = 15
	}
	if overRatio <= 0 || overRatio > 1 {
		overRatio = 0.90
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{
		store:      store,
		expiryWarn: time.Duration(expiryWarnDays) * 24 * time.Hour,
		deviceRisk: time.Duration(deviceRiskWarnDays) * 24 * time.Hour,
		overRatio:  overRatio,
		log:        log,
		now:        time.Now,
	}
}

// Expiring lists licenses whose validity ends within the given number of
// days, soonest first. Already expired licenses are not included.
func (e *Evaluator) Expiring(ctx context.Context, withinDays int) ([]inventory.License, error) {
	return e.store.ExpiringLicenses(ctx, e.now(), time.Duration(withinDays)*24*time.Hour)
}

// OverUtilized lists utilizations at or above the configured ratio, highest
// first.
func (e *Evaluator) OverUtilized(ctx context.Context) ([]inventory.Utilization, error) {
	all, err := e.store.ListUtilizations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]inventory.Utilization, 0, len(all))
	for _, u := range all {
		if u.Ratio() >= e.overRatio {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ratio() != out[j].Ratio() {
			return out[i].Ratio() > out[j].Ratio()
		}
		return out[i].LicenseID < out[j].LicenseID
	})
	return out, nil
}

// AtRiskDevices lists devices holding an active seat on a license that is
// expired, expiring within the risk window, or over-utilized.
func (e *Evaluator) AtRiskDevices(ctx context.Context) ([]inventory.Device, error) {
	return e.store.AtRiskDevices(ctx, e.now(), e.deviceRisk, e.overRatio)
}

// deviceRiskSeverity grades an at-risk device: holding a seat on an already
// expired license is critical, everything else is a warning.
func (e *Evaluator) deviceRiskSeverity(ctx context.Context, deviceID string, now time.Time) (alert.Severity, string, error) {
	assignments, err := e.store.ListAssignments(ctx, inventory.AssignmentFilter{DeviceID: deviceID, ActiveOnly: true})
	if err != nil {
		return "", "", err
	}
	for _, a := range assignments {
		l, err := e.store.GetLicense(ctx, a.LicenseID)
		if err != nil {
			return "", "", err
		}
		if l.Expired(now) {
			return alert.SeverityCritical, fmt.Sprintf("holds a seat on expired license %s", l.Key), nil
		}
	}
	return alert.SeverityWarning, "holds a seat on a license that is expiring or over-utilized", nil
}

// Breakdown buckets every license by its posture. A license lands in exactly
// one expiry bucket; over-utilization is counted separately since it can
// overlap any of them.
type Breakdown struct {
	Valid          int     `json:"valid"`
	ExpiringIn30   int     `json:"expiring_in_30_days"`
	ExpiringIn60   int     `json:"expiring_in_60_days"`
	Expired        int     `json:"expired"`
	OverUtilized   int     `json:"over_utilized"`
	ComplianceRate float64 `json:"compliance_rate"`
}

// Report is a point-in-time snapshot of the estate's compliance posture.
type Report struct {
	GeneratedAt   time.Time               `json:"generated_at"`
	Summary       inventory.Summary       `json:"summary"`
	Breakdown     Breakdown               `json:"breakdown"`
	Expiring      []inventory.License     `json:"expiring_licenses"`
	OverUtilized  []inventory.Utilization `json:"over_utilized"`
	AtRiskDevices []inventory.Device      `json:"at_risk_devices"`
}

// Report assembles the full posture snapshot used by the reporting surface.
func (e *Evaluator) Report(ctx context.Context) (Report, error) {
	now := e.now()
	summary, err := e.store.Summary(ctx, now)
	if err != nil {
		return Report{}, err
	}
	expiring, err := e.store.ExpiringLicenses(ctx, now, e.expiryWarn)
	if err != nil {
		return Report{}, err
	}
	over, err := e.OverUtilized(ctx)
	if err != nil {
		return Report{}, err
	}
	atRisk, err := e.AtRiskDevices(ctx)
	if err != nil {
		return Report{}, err
	}
	licenses, err := e.store.ListLicenses(ctx)
	if err != nil {
		return Report{}, err
	}
	return Report{
		GeneratedAt:   now,
		Summary:       summary,
		Breakdown:     breakdown(licenses, len(over), now),
		Expiring:      expiring,
		OverUtilized:  over,
		AtRiskDevices: atRisk,
	}, nil
}

func breakdown(licenses []inventory.License, overUtilized int, now time.Time) Breakdown {
	var b Breakdown
	b.OverUtilized = overUtilized
	for _, l := range licenses {
		switch days := l.DaysUntilExpiry(now); {
		case l.Expired(now):
			b.Expired++
		case days < 30:
			b.ExpiringIn30++
		case days < 60:
			b.ExpiringIn60++
		default:
			b.Valid++
		}
	}
	if len(licenses) > 0 {
		b.ComplianceRate = float64(len(licenses)-b.Expired) / float64(len(licenses))
	}
	return b
}

// EvaluateAlerts runs one scan: it computes every condition currently holding,
// syncs the persisted markers, and returns events only for conditions that
// were not already signaled. A condition that stops holding loses its marker,
// so it signals again the next time it recurs.
func (e *Evaluator) EvaluateAlerts(ctx context.Context) ([]alert.Event, error) {
	now := e.now()
	candidates := make(map[alert.Key]alert.Event)

	expiring, err := e.store.ExpiringLicenses(ctx, now, e.expiryWarn)
	if err != nil {
		return nil, err
	}
	for _, l := range expiring {
		days := l.DaysUntilExpiry(now)
		k := alert.Key{SubjectType: SubjectLicense, SubjectID: l.ID, Condition: alert.ConditionLicenseExpiring}
		candidates[k] = alert.Event{
			Key:        k,
			Severity:   alert.ExpirySeverity(days),
			Message:    fmt.Sprintf("license %s (%s) expires in %d days", l.Key, l.SoftwareName, days),
			DetectedAt: now,
		}
	}

	over, err := e.OverUtilized(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range over {
		k := alert.Key{SubjectType: SubjectLicense, SubjectID: u.LicenseID, Condition: alert.ConditionOverUtilized}
		candidates[k] = alert.Event{
			Key:        k,
			Severity:   alert.UtilizationSeverity(u.Ratio()),
			Message:    fmt.Sprintf("license %s uses %d of %d seats", u.LicenseID, u.Used, u.Total),
			DetectedAt: now,
		}
	}

	atRisk, err := e.AtRiskDevices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range atRisk {
		sev, reason, err := e.deviceRiskSeverity(ctx, d.ID, now)
		if err != nil {
			return nil, err
		}
		k := alert.Key{SubjectType: SubjectDevice, SubjectID: d.ID, Condition: alert.ConditionDeviceAtRisk}
		candidates[k] = alert.Event{
			Key:        k,
			Severity:   sev,
			Message:    fmt.Sprintf("device %s %s", d.ID, reason),
			DetectedAt: now,
		}
	}

	active := make([]alert.Key, 0, len(candidates))
	for k := range candidates {
		active = append(active, k)
	}
	fresh, err := e.store.SyncAlertMarkers(ctx, active)
	if err != nil {
		return nil, err
	}

	obs.ActiveAlertConditions.Set(float64(len(active)))

	events := make([]alert.Event, 0, len(fresh))
	for _, k := range fresh {
		ev, ok := candidates[k]
		if !ok {
			continue
		}
		events = append(events, ev)
		obs.AlertsEmittedTotal.WithLabelValues(string(k.Condition)).Inc()
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Key.String() < events[j].Key.String() })

	if len(events) > 0 {
		e.log.Info("compliance scan signaled new conditions",
			zap.Int("new", len(events)),
			zap.Int("active", len(active)))
	}
	return events, nil
}
