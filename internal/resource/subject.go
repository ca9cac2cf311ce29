package resource

// Pseudo-principal identifiers spec.md §4.4 requires every authorization
// check to consider alongside real principal ids.
const (
	PseudoAuthenticated = "authenticated"
	PseudoUnauthenticated = "unauthenticated"
	PseudoAll = "all"
)

// ExpandedSubjects is the set of principal identifiers an authorization
// check is evaluated against for one request.
type ExpandedSubjects struct {
	// PrincipalID is the authenticated user's principal id, empty for
	// anonymous requests.
	PrincipalID string
	// GroupIDs lists every group principal the user belongs to.
	GroupIDs []string
}

// IDs returns the full flattened subject set per spec.md §4.4: the
// authenticated principal plus its groups plus "authenticated" when
// present, or "unauthenticated" when absent, plus "all" unconditionally.
func (s ExpandedSubjects) IDs() []string {
	out := make([]string, 0, len(s.GroupIDs)+3)
	if s.PrincipalID != "" {
		out = append(out, s.PrincipalID)
		out = append(out, s.GroupIDs...)
		out = append(out, PseudoAuthenticated)
	} else {
		out = append(out, PseudoUnauthenticated)
	}
	out = append(out, PseudoAll)
	return out
}

func (s ExpandedSubjects) IsAnonymous() bool { return s.PrincipalID == "" }

// Action is the operation an authorization check evaluates.
type Action struct {
	Kind  ActionKind
	Level PermissionLevel // valid when Kind == ActionShareGrant
}

type ActionKind int

const (
	ActionReadFreebusy ActionKind = iota
	ActionRead
	ActionWrite
	ActionEdit
	ActionDelete
	ActionShareGrant
)

func (k ActionKind) String() string {
	switch k {
	case ActionReadFreebusy:
		return "ReadFreebusy"
	case ActionRead:
		return "Read"
	case ActionWrite:
		return "Write"
	case ActionEdit:
		return "Edit"
	case ActionDelete:
		return "Delete"
	case ActionShareGrant:
		return "ShareGrant"
	default:
		return "Unknown"
	}
}

// PermissionLevel is a coarse role summarizing what a grantee may do on a
// resource, expanding to a set of WebDAV privileges for
// DAV:current-user-privilege-set.
type PermissionLevel int

const (
	LevelNone PermissionLevel = iota
	LevelReadFreebusy
	LevelRead
	LevelReadShare
	LevelEdit
	LevelEditShare
	LevelOwner
)

func (l PermissionLevel) String() string {
	switch l {
	case LevelReadFreebusy:
		return "ReadFreebusy"
	case LevelRead:
		return "Read"
	case LevelReadShare:
		return "ReadShare"
	case LevelEdit:
		return "Edit"
	case LevelEditShare:
		return "EditShare"
	case LevelOwner:
		return "Owner"
	default:
		return "None"
	}
}

// Privilege is an RFC 3744 fine-grained access right.
type Privilege uint32

const (
	PrivRead Privilege = 1 << iota
	PrivReadCurrentUserPrivilegeSet
	PrivReadACL
	PrivReadFreeBusy
	PrivWriteContent
	PrivWriteProperties
	PrivBind
	PrivUnbind
	PrivWriteACL
	PrivAll = PrivRead | PrivReadCurrentUserPrivilegeSet | PrivReadACL | PrivReadFreeBusy |
		PrivWriteContent | PrivWriteProperties | PrivBind | PrivUnbind | PrivWriteACL
)

// Privileges returns the WebDAV privilege set a PermissionLevel grants.
func (l PermissionLevel) Privileges() Privilege {
	switch l {
	case LevelReadFreebusy:
		return PrivReadFreeBusy | PrivReadCurrentUserPrivilegeSet
	case LevelRead:
		return PrivRead | PrivReadFreeBusy | PrivReadCurrentUserPrivilegeSet
	case LevelReadShare:
		return PrivRead | PrivReadFreeBusy | PrivReadCurrentUserPrivilegeSet | PrivReadACL
	case LevelEdit:
		return PrivRead | PrivReadFreeBusy | PrivReadCurrentUserPrivilegeSet |
			PrivWriteContent | PrivWriteProperties | PrivBind | PrivUnbind
	case LevelEditShare:
		return PrivRead | PrivReadFreeBusy | PrivReadCurrentUserPrivilegeSet | PrivReadACL |
			PrivWriteContent | PrivWriteProperties | PrivBind | PrivUnbind
	case LevelOwner:
		return PrivAll
	default:
		return 0
	}
}

// RequiredPrivileges maps an action to the privilege(s) it needs. target is
// the privilege needed on the resource itself; parent is the privilege tied
// to the parent collection (DAV:bind for Write, DAV:unbind for Delete), zero
// for the other actions.
func RequiredPrivileges(a Action) (target Privilege, parent Privilege) {
	switch a.Kind {
	case ActionReadFreebusy:
		return PrivReadFreeBusy, 0
	case ActionRead:
		return PrivRead, 0
	case ActionWrite:
		return PrivWriteContent, PrivBind
	case ActionEdit:
		return PrivWriteContent | PrivWriteProperties, 0
	case ActionDelete:
		return 0, PrivUnbind
	case ActionShareGrant:
		return PrivWriteACL, 0
	default:
		return 0, 0
	}
}

// Has reports whether p contains every bit of want.
func (p Privilege) Has(want Privilege) bool { return p&want == want }

// Names renders a privilege set to its DAV: XML-local-names for a
// need-privileges error body or current-user-privilege-set response.
func (p Privilege) Names() []string {
	var out []string
	add := func(bit Privilege, name string) {
		if p.Has(bit) {
			out = append(out, name)
		}
	}
	add(PrivRead, "read")
	add(PrivReadCurrentUserPrivilegeSet, "read-current-user-privilege-set")
	add(PrivReadACL, "read-acl")
	add(PrivReadFreeBusy, "read-free-busy")
	add(PrivWriteContent, "write-content")
	add(PrivWriteProperties, "write-properties")
	add(PrivBind, "bind")
	add(PrivUnbind, "unbind")
	add(PrivWriteACL, "write-acl")
	return out
}
