package recipients

import (
	"strings"

	"github.com/potooio/potoo-mailer/internal/util"
)

// EventOwner extracts the user that triggered a CloudTrail-style event from
// event.detail.userIdentity. It returns "" when no human identity can be
// derived (root, instance profiles, lambda roles, missing detail).
func EventOwner(event map[string]interface{}) string {
	identity := util.SafeNestedMap(event, "detail", "userIdentity")
	if identity == nil {
		return ""
	}

	switch util.SafeStringFromMap(identity, "type") {
	case "AssumedRole":
		arn := util.SafeStringFromMap(identity, "arn")
		user := arn[strings.LastIndex(arn, "/")+1:]
		if strings.HasPrefix(user, "i-") || strings.HasPrefix(user, "awslambda") {
			return ""
		}
		if i := strings.LastIndex(user, ":"); i >= 0 {
			user = user[i+1:]
		}
		return user
	case "IAMUser", "WebIdentityUser":
		return util.SafeStringFromMap(identity, "userName")
	case "Root":
		return ""
	default:
		principal := util.SafeStringFromMap(identity, "principalId")
		if i := strings.Index(principal, ":"); i >= 0 {
			return principal[i+1:]
		}
		return principal
	}
}
