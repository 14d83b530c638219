package container

// Metadata is a snapshot of container-wide properties, recomputed after
// every structural mutation.
type Metadata struct {
	NbItems        int
	NbFields       int
	NbSystemFields int

	// Empty is true when only System fields are present.
	Empty bool

	// Countable is true when every non-System field is countable and the
	// Private ones agree on their item count.
	Countable bool

	// PartiallyCountable stays true as long as Private fields agree, even
	// with non-countable fields around.
	PartiallyCountable bool

	// Conflict names the field that broke the item count agreement.
	Conflict string

	PosKey    string
	MortonKey string
}

// HasPosKey reports whether a field is flagged as spatial key.
func (m Metadata) HasPosKey() bool { return m.PosKey != "" }

// HasMortonKey reports whether a field is flagged as z-order index.
func (m Metadata) HasMortonKey() bool { return m.MortonKey != "" }

// SystemOnly reports whether every field is System scoped.
func (m Metadata) SystemOnly() bool {
	return m.NbFields > 0 && m.NbSystemFields == m.NbFields
}

func computeMetadata(entries []*entry) Metadata {
	m := Metadata{Empty: true, Countable: true, PartiallyCountable: true}

	for _, e := range entries {
		count := e.field.Len()
		switch {
		case !e.field.Countable() && e.scope != System:
			m.Countable = false
		case e.scope == Private && m.NbItems > 1 && count > 1 && count != m.NbItems:
			m.Countable = false
			m.PartiallyCountable = false
			if m.Conflict == "" {
				m.Conflict = e.name
			}
		case e.scope == Private && count > 0 && m.NbItems <= 1:
			m.NbItems = count
		}

		if e.flag.Has(Pos) {
			m.PosKey = e.name
		}
		if e.flag.Has(Morton) {
			m.MortonKey = e.name
		}
		if e.scope == System {
			m.NbSystemFields++
		} else {
			m.Empty = false
		}
		m.NbFields++
	}
	return m
}
