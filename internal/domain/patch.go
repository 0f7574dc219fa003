package domain

// TaskPatch holds the task fields a claimant may change.
type TaskPatch struct {
	Title        Field[string] `json:"title"`
	Description  Field[string] `json:"description"`
	Priority     Field[int]    `json:"priority"`
	TypeID       Field[string] `json:"type_id"`
	CapabilityID Field[string] `json:"capability_id"`
	CardID       Field[string] `json:"card_id"`
	MilestoneID  Field[string] `json:"milestone_id"`
}

// Empty reports whether the patch leaves every field unchanged.
func (p TaskPatch) Empty() bool {
	return p.Title.IsUnchanged() && p.Description.IsUnchanged() && p.Priority.IsUnchanged() &&
		p.TypeID.IsUnchanged() && p.CapabilityID.IsUnchanged() && p.CardID.IsUnchanged() && p.MilestoneID.IsUnchanged()
}

// Changed lists the JSON names of fields the patch touches.
func (p TaskPatch) Changed() []string {
	var out []string
	add := func(name string, unchanged bool) {
		if !unchanged {
			out = append(out, name)
		}
	}
	add("title", p.Title.IsUnchanged())
	add("description", p.Description.IsUnchanged())
	add("priority", p.Priority.IsUnchanged())
	add("type_id", p.TypeID.IsUnchanged())
	add("capability_id", p.CapabilityID.IsUnchanged())
	add("card_id", p.CardID.IsUnchanged())
	add("milestone_id", p.MilestoneID.IsUnchanged())
	return out
}
