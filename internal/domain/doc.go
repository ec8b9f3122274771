// Package domain models port-call timestamps and the rules that reconcile
// them into one canonical timeline per port call.
//
// # Data Sources
//
// Port-call timestamps arrive from several independent, asynchronous and
// occasionally contradictory providers:
//
//   - AIS-based prediction services emit machine-learned ETA/ETD
//     predictions, in a provisional and a confirmed variant from the same
//     provider family.
//   - The vessel-traffic-service (VTS) schedule system emits calculated
//     schedule times; the live VTS control system emits operator-maintained
//     times that can lag reality when an operator forgets to update them.
//   - The national port-call registry is the registry of record for
//     arrivals and departures.
//   - The pilotage order system reports predicted pilot boarding times and
//     is the only source that carries a point of origin (FromLocode).
//
// Each provider speaks its own wire format; intake adapters convert
// everything into [CanonicalEvent] before it reaches this package.
//
// # Event Kinds
//
//	ETA/ETD  predicted arrival/departure
//	ATA/ATD  observed arrival/departure
//	ETB      predicted arrival at berth
//	ETP      predicted pilot boarding
//
// # Reconciliation Rules
//
// Reconciliation is a pure re-derivation over the current row set, never an
// in-place update. For one port call:
//
//  1. A provisional AIS record is dropped whenever a confirmed record from
//     the same provider family exists, regardless of event kind.
//  2. A VTS control record is dropped when its record time is older than
//     the staleness threshold, or when its event time diverges from a
//     same-kind AIS record by more than the divergence threshold.
//  3. Within each event kind the surviving record with the highest source
//     priority wins; registry of record highest, provisional AIS lowest.
//  4. Equal-priority survivors of the same kind are merged by taking the
//     millisecond midpoint of their event times.
//  5. The result is sorted ascending by event time.
//
// # Normalization Rules
//
// Provider predictions pass provider business rules before becoming
// canonical events: jurisdiction and self-reference checks, the 24-hour
// short-horizon destination-change policy, the pilot-boarding zone
// reclassification with its emit list, and the dual-publish list that
// synthesizes an ETB twin for selected destinations. See [Normalizer].
package domain
