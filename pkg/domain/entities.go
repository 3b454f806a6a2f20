// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by coacore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntitySample identifies a registered sample record.
	EntitySample EntityType = "sample"
	// EntityUnit identifies a sample aliquot record.
	EntityUnit EntityType = "unit"
	// EntityCOA identifies a certificate-of-analysis record.
	EntityCOA EntityType = "coa"
)

// COAStatus represents the canonical certificate workflow states.
type COAStatus string

// Canonical COA statuses used for lifecycle rule evaluation.
const (
	// StatusDraft indicates an unsaved or technician-editable certificate.
	StatusDraft COAStatus = "draft"
	// StatusPendingApproval indicates a certificate awaiting admin sign-off.
	StatusPendingApproval COAStatus = "pending_approval"
	// StatusPostponed indicates release was deferred with a recorded reason.
	StatusPostponed COAStatus = "postponed"
	// StatusCompleted indicates an approved, released certificate.
	StatusCompleted COAStatus = "completed"
)

// TerminalCOAStatuses lists the states no further edit may leave.
var TerminalCOAStatuses = map[COAStatus]struct{}{
	StatusPostponed: {},
	StatusCompleted: {},
}

// SampleStatus enumerates parent-sample workflow states propagated from COAs.
type SampleStatus string

const (
	SampleStatusPending   SampleStatus = "pending"
	SampleStatusCompleted SampleStatus = "completed"
	SampleStatusPostponed SampleStatus = "postponed"
)

// UnitCOAStatus mirrors the unit-level coa_status column of the source schema.
type UnitCOAStatus string

const (
	UnitCOANone      UnitCOAStatus = ""
	UnitCOACreated   UnitCOAStatus = "created"
	UnitCOAFinalized UnitCOAStatus = "finalized"
)

// Role identifies the actor classes recognised by the lifecycle controller.
type Role string

const (
	RoleTechnician Role = "technician"
	RoleAdmin      Role = "admin"
)

// Actor binds a verified human name to a workflow role.
type Actor struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// MatrixTag classifies the physical sample matrix of a unit.
type MatrixTag string

const (
	MatrixFeed   MatrixTag = "feed"
	MatrixWater  MatrixTag = "water"
	MatrixTissue MatrixTag = "tissue"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sample represents a registered submission shared by one or more units.
type Sample struct {
	Base
	Code         string       `json:"sample_code"`
	Year         int          `json:"year"`
	DateReceived time.Time    `json:"date_received"`
	Company      string       `json:"company"`
	Farm         string       `json:"farm"`
	Cycle        string       `json:"cycle,omitempty"`
	Flock        string       `json:"flock,omitempty"`
	Status       SampleStatus `json:"status"`
	LastEditedBy string       `json:"last_edited_by,omitempty"`
}

// Unit represents a single physical aliquot registered for one or more assays.
// Identity fields (code, sample reference, received date) are immutable after
// registration; test metadata stays amendable until COA finalization.
type Unit struct {
	Base
	Code          string              `json:"unit_code"`
	SampleID      string              `json:"sample_id"`
	ReceivedAt    time.Time           `json:"received_at"`
	Assays        []string            `json:"assays"`
	SampleIndexes map[string][]string `json:"sample_indexes"`
	MatrixTags    []MatrixTag         `json:"matrix_tags,omitempty"`
	Houses        []string            `json:"house,omitempty"`
	Age           string              `json:"age,omitempty"`
	Source        string              `json:"source,omitempty"`
	SampleTypes   []string            `json:"sample_type,omitempty"`
	SamplesNumber int                 `json:"samples_number,omitempty"`
	Notes         string              `json:"notes,omitempty"`
	COAStatus     UnitCOAStatus       `json:"coa_status,omitempty"`
	LastEditedBy  string              `json:"last_edited_by,omitempty"`
}

// HasMatrix reports whether the unit carries the given matrix tag.
func (u Unit) HasMatrix(tag MatrixTag) bool {
	for _, t := range u.MatrixTags {
		if t == tag {
			return true
		}
	}
	return false
}

// IndexesFor returns the ordered sample-index labels registered for an assay.
func (u Unit) IndexesFor(assay string) []string {
	return u.SampleIndexes[assay]
}

// ResultCell holds the typed sub-channel measurements for one (assay,
// sample-index) pair. Which fields are meaningful depends on the assay kind;
// unused channels stay empty and are omitted from the wire form.
type ResultCell struct {
	Value       string `json:"value,omitempty"`
	Mould       string `json:"mould,omitempty"`
	Fungi       string `json:"fungi,omitempty"`
	Coliform    string `json:"coliform,omitempty"`
	Ecoli       string `json:"ecoli,omitempty"`
	Pseudomonas string `json:"pseudomonas,omitempty"`
}

// Channel identifies one measurement column within a result cell.
type Channel string

const (
	ChannelValue       Channel = "value"
	ChannelMould       Channel = "mould"
	ChannelFungi       Channel = "fungi"
	ChannelColiform    Channel = "coliform"
	ChannelEcoli       Channel = "ecoli"
	ChannelPseudomonas Channel = "pseudomonas"
)

// Get returns the raw string stored for a channel.
func (c ResultCell) Get(ch Channel) string {
	switch ch {
	case ChannelValue:
		return c.Value
	case ChannelMould:
		return c.Mould
	case ChannelFungi:
		return c.Fungi
	case ChannelColiform:
		return c.Coliform
	case ChannelEcoli:
		return c.Ecoli
	case ChannelPseudomonas:
		return c.Pseudomonas
	}
	return ""
}

// Set stores a raw string on a channel and returns the updated cell.
func (c ResultCell) Set(ch Channel, raw string) ResultCell {
	switch ch {
	case ChannelValue:
		c.Value = raw
	case ChannelMould:
		c.Mould = raw
	case ChannelFungi:
		c.Fungi = raw
	case ChannelColiform:
		c.Coliform = raw
	case ChannelEcoli:
		c.Ecoli = raw
	case ChannelPseudomonas:
		c.Pseudomonas = raw
	}
	return c
}

// AssayResults maps sample-index label to its typed result cell.
type AssayResults map[string]ResultCell

// COA is the certificate-of-analysis aggregate, one-to-one with a Unit.
// JSON field names are the durable schema and must round-trip exactly.
type COA struct {
	Base
	UnitID string `json:"unit_id"`

	TestResults  map[string]AssayResults      `json:"test_results,omitempty"`
	TestPortions map[string]map[string]string `json:"test_portions,omitempty"`
	TestMethods  map[string]string            `json:"test_methods,omitempty"`
	IsolateTypes map[string]map[string]string `json:"isolate_types,omitempty"`
	TestRanges   map[string]map[string]string `json:"test_ranges,omitempty"`

	// TestReportNumbers is a cache of derived per-assay report codes. It is
	// regenerated from the unit on every read and never trusted from storage.
	TestReportNumbers map[string]string `json:"test_report_numbers,omitempty"`

	HiddenIndexes map[string][]string `json:"hidden_indexes,omitempty"`

	DateTested    string    `json:"date_tested,omitempty"`
	TestedBy      string    `json:"tested_by,omitempty"`
	ReviewedBy    string    `json:"reviewed_by,omitempty"`
	LabSupervisor string    `json:"lab_supervisor,omitempty"`
	LabManager    string    `json:"lab_manager,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	Status        COAStatus `json:"status"`

	// Signatures binds slot names (tested_by etc.) to verified signature
	// image keys in the blob store.
	Signatures map[string]SignatureBinding `json:"signatures,omitempty"`
}

// SignatureBinding records a PIN-verified signer for one approval slot.
type SignatureBinding struct {
	Name     string    `json:"name"`
	ImageKey string    `json:"image_key,omitempty"`
	BoundAt  time.Time `json:"bound_at"`
}

// Result returns the cell stored for (assay, index), if any.
func (c COA) Result(assay, index string) (ResultCell, bool) {
	cells, ok := c.TestResults[assay]
	if !ok {
		return ResultCell{}, false
	}
	cell, ok := cells[index]
	return cell, ok
}

// SetResult stores a cell for (assay, index), allocating maps as needed.
func (c *COA) SetResult(assay, index string, cell ResultCell) {
	if c.TestResults == nil {
		c.TestResults = make(map[string]AssayResults)
	}
	if c.TestResults[assay] == nil {
		c.TestResults[assay] = make(AssayResults)
	}
	c.TestResults[assay][index] = cell
}

// Portion returns the salmonella test portion recorded for (assay, index).
func (c COA) Portion(assay, index string) string {
	if c.TestPortions == nil {
		return ""
	}
	return c.TestPortions[assay][index]
}

// Hidden reports whether a sample index is suppressed from the printed table.
func (c COA) Hidden(assay, index string) bool {
	for _, h := range c.HiddenIndexes[assay] {
		if h == index {
			return true
		}
	}
	return false
}

// Terminal reports whether the certificate is in a terminal workflow state.
func (c COA) Terminal() bool {
	_, ok := TerminalCOAStatuses[c.Status]
	return ok
}

// Clone returns a deep copy of the certificate aggregate.
func (c COA) Clone() COA {
	cp := c
	if c.TestResults != nil {
		cp.TestResults = make(map[string]AssayResults, len(c.TestResults))
		for assay, cells := range c.TestResults {
			dup := make(AssayResults, len(cells))
			for idx, cell := range cells {
				dup[idx] = cell
			}
			cp.TestResults[assay] = dup
		}
	}
	cp.TestPortions = cloneNested(c.TestPortions)
	cp.IsolateTypes = cloneNested(c.IsolateTypes)
	cp.TestRanges = cloneNested(c.TestRanges)
	cp.TestMethods = cloneFlat(c.TestMethods)
	cp.TestReportNumbers = cloneFlat(c.TestReportNumbers)
	if c.HiddenIndexes != nil {
		cp.HiddenIndexes = make(map[string][]string, len(c.HiddenIndexes))
		for assay, idxs := range c.HiddenIndexes {
			cp.HiddenIndexes[assay] = append([]string(nil), idxs...)
		}
	}
	if c.Signatures != nil {
		cp.Signatures = make(map[string]SignatureBinding, len(c.Signatures))
		for slot, b := range c.Signatures {
			cp.Signatures[slot] = b
		}
	}
	return cp
}

func cloneFlat(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneNested(in map[string]map[string]string) map[string]map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]map[string]string, len(in))
	for k, inner := range in {
		out[k] = cloneFlat(inner)
	}
	return out
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
