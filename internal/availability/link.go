package availability

// Linker resolves records to collaborators by id, then normalized email,
// then the nom|prenom key. The first tier that matches wins.
type Linker struct {
	ids    map[string]string
	emails map[string]string
	names  map[string]string
}

// NewLinker indexes collaborators. On duplicate emails or names the first
// collaborator is kept.
func NewLinker(collaborators []Collaborator) *Linker {
	l := &Linker{
		ids:    make(map[string]string, len(collaborators)),
		emails: make(map[string]string, len(collaborators)),
		names:  make(map[string]string, len(collaborators)),
	}
	for _, c := range collaborators {
		if c.ID == "" {
			continue
		}
		l.ids[c.ID] = c.ID
		if email := NormalizeEmail(c.Email); email != "" {
			if _, ok := l.emails[email]; !ok {
				l.emails[email] = c.ID
			}
		}
		if key := NameKey(c.Nom, c.Prenom); key != "" {
			if _, ok := l.names[key]; !ok {
				l.names[key] = c.ID
			}
		}
	}
	return l
}

// Resolve returns the id of the collaborator d belongs to.
func (l *Linker) Resolve(d Dispo) (string, bool) {
	if d.CollaboratorID != "" {
		if id, ok := l.ids[d.CollaboratorID]; ok {
			return id, true
		}
	}
	if email := NormalizeEmail(d.Email); email != "" {
		if id, ok := l.emails[email]; ok {
			return id, true
		}
	}
	if key := NameKey(d.Nom, d.Prenom); key != "" {
		if id, ok := l.names[key]; ok {
			return id, true
		}
	}
	return "", false
}
