// Package recipients maps the resources of an event to the sets of addresses
// that should hear about them, merging resources that share a recipient set
// so each set gets one notification.
package recipients

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/config"
	"github.com/potooio/potoo-mailer/internal/types"
	"github.com/potooio/potoo-mailer/internal/util"
)

// Directory resolves a user id to email addresses (optionally with the
// user's manager). Implemented by *directory.Directory.
type Directory interface {
	Emails(ctx context.Context, uid string, withManager bool) []string
}

// Group is one notification unit: a canonical recipient set and the
// resources it covers, in event order.
type Group struct {
	Recipients types.RecipientSet
	Resources  []types.Resource
}

// Resolver computes recipient groups for events.
type Resolver struct {
	orgDomain     string
	emailBaseURL  string
	contactTags   []string
	ldapUIDTags   []string
	accountEmails map[string][]string

	dir      Directory
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates a Resolver. dir may be nil when no directory is configured.
func New(cfg *config.Config, dir Directory, logger *zap.Logger) *Resolver {
	return &Resolver{
		orgDomain:     cfg.OrgDomain,
		emailBaseURL:  cfg.EmailBaseURL,
		contactTags:   cfg.ContactTags,
		ldapUIDTags:   cfg.LDAPUIDTags,
		accountEmails: cfg.AccountEmails,
		dir:           dir,
		validate:      validator.New(),
		logger:        logger.Named("recipients"),
	}
}

// IsEmail reports whether s is a syntactically valid address.
func (r *Resolver) IsEmail(s string) bool {
	return s != "" && r.validate.Var(s, "required,email") == nil
}

// ValidEmails extracts the valid addresses from literal address lists.
// Entries may hold several addresses separated by , ; or :. An entry that is
// not an address is retried with email_base_url appended, for label values
// that cannot contain '@'.
func (r *Resolver) ValidEmails(values []string) []string {
	var out []string
	for _, v := range values {
		for _, addr := range util.SplitAddressList(v) {
			if r.IsEmail(addr) {
				out = append(out, addr)
				continue
			}
			if r.emailBaseURL == "" {
				continue
			}
			if full := fmt.Sprintf("%s@%s", addr, r.emailBaseURL); r.IsEmail(full) {
				out = append(out, full)
			}
		}
	}
	return out
}

func literalValues(targets []types.Target) []string {
	var out []string
	for _, t := range targets {
		if t.Kind == types.TargetEmail {
			out = append(out, t.Value)
		}
	}
	return out
}

// PolicyEmails returns the recipients every group receives: literal to/cc
// addresses, the event owner and the account emails, when targeted.
func (r *Resolver) PolicyEmails(ctx context.Context, ev *types.Event) []string {
	targets := append(append([]types.Target{}, ev.Targets()...), types.ParseTargets(ev.Action.CC)...)
	out := r.ValidEmails(literalValues(targets))

	for _, t := range targets {
		switch t.Kind {
		case types.TargetEventOwner:
			out = append(out, r.eventOwnerEmails(ctx, ev)...)
		case types.TargetAccountEmails:
			out = append(out, r.AccountEmails(ev)...)
		}
	}
	return out
}

func (r *Resolver) eventOwnerEmails(ctx context.Context, ev *types.Event) []string {
	user := EventOwner(ev.Event)
	switch {
	case user == "":
		r.logger.Info("No user identity in event", zap.String("policy", ev.Policy.Name))
		return nil
	case r.IsEmail(user):
		return []string{user}
	case r.dir != nil:
		return r.dir.Emails(ctx, user, false)
	case r.orgDomain != "":
		addr := user + "@" + r.orgDomain
		r.logger.Info("Using org_domain for event owner", zap.String("email", addr))
		return []string{addr}
	default:
		r.logger.Warn("Unable to resolve event owner email, configure ldap_uri or org_domain",
			zap.String("user", user))
		return nil
	}
}

// AccountEmails returns the configured addresses for the event's account id.
func (r *Resolver) AccountEmails(ev *types.Event) []string {
	if ev.AccountID == "" {
		return nil
	}
	return r.ValidEmails(r.accountEmails[ev.AccountID])
}

// DirectoryEmails resolves the ldap_uid_tags of a resource (and its UserName
// when the policy opts in) through the directory.
func (r *Resolver) DirectoryEmails(ctx context.Context, ev *types.Event, res types.Resource) []string {
	if r.dir == nil || len(r.ldapUIDTags) == 0 {
		return nil
	}
	manager := ev.Action.EmailLDAPUsernameManager
	var out []string
	if ev.Action.ResourceLDAPLookupUsername {
		if user := util.SafeStringFromMap(res, "UserName"); user != "" {
			out = append(out, r.dir.Emails(ctx, user, manager)...)
		}
	}
	for _, uid := range util.TagValues(res, r.ldapUIDTags) {
		out = append(out, r.dir.Emails(ctx, uid, manager)...)
	}
	return out
}

// OwnerEmails resolves the contact_tags of a resource: values that are
// addresses are used directly, other values go through the directory, or get
// org_domain appended when no directory is configured. SNS topic ARNs are
// ignored here; the topic channel picks them up.
func (r *Resolver) OwnerEmails(ctx context.Context, res types.Resource) []string {
	var out []string
	for _, v := range util.TagValues(res, r.contactTags) {
		if types.IsSNSARN(v) {
			continue
		}
		if direct := r.ValidEmails([]string{v}); len(direct) > 0 {
			out = append(out, direct...)
			continue
		}
		switch {
		case r.dir != nil:
			out = append(out, r.dir.Emails(ctx, v, false)...)
		case r.orgDomain != "":
			out = append(out, strings.TrimSpace(v)+"@"+r.orgDomain)
		}
	}
	return out
}

// Resolve groups the event's resources by recipient set. Each resource gets
// the union of its directory recipients, the policy recipients and its owner
// recipients (or owner_absent_contact when no owner resolved). Resources that
// end up with no recipients are dropped. Groups keep first-seen order.
func (r *Resolver) Resolve(ctx context.Context, ev *types.Event) []Group {
	policy := r.PolicyEmails(ctx, ev)
	absent := r.ValidEmails(literalValues(ev.OwnerAbsentTargets()))
	wantOwners := ev.HasTarget(types.TargetResourceOwner)

	var groups []Group
	index := make(map[types.RecipientSet]int)
	for _, res := range ev.Resources {
		addrs := r.DirectoryEmails(ctx, ev, res)
		addrs = append(addrs, policy...)
		var owners []string
		if wantOwners {
			owners = r.OwnerEmails(ctx, res)
		}
		if len(owners) == 0 {
			owners = absent
		}
		addrs = append(addrs, owners...)

		set := types.NewRecipientSet(addrs...)
		if set.IsEmpty() {
			continue
		}
		i, ok := index[set]
		if !ok {
			i = len(groups)
			index[set] = i
			groups = append(groups, Group{Recipients: set})
		}
		groups[i].Resources = append(groups[i].Resources, res)
	}

	if len(groups) == 0 {
		r.logger.Debug("Found no email addresses", zap.String("policy", ev.Policy.Name))
	}
	return groups
}
