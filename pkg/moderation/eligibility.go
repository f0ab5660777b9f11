package moderation

// Eligibility is the snapshot of configuration gates that decide whether a
// comment is auto-moderated at all. Components receive it through a provider
// function so a config reload takes effect without reconstruction.
type Eligibility struct {
	AutoModerationEnabled bool
	CredentialConfigured  bool

	ModerateArticles bool
	ModeratePages    bool
	ModerateProducts bool
}

// ContentTypeEnabled reports whether the given content type's moderation
// toggle is on. Unknown content types are never moderated.
func (e Eligibility) ContentTypeEnabled(ct ContentType) bool {
	switch ct {
	case ContentTypeArticle:
		return e.ModerateArticles
	case ContentTypePage:
		return e.ModeratePages
	case ContentTypeProduct:
		return e.ModerateProducts
	}
	return false
}

// Eligible reports whether a comment on the given content type passes all
// three gates: global toggle, credential, content-type toggle.
func (e Eligibility) Eligible(ct ContentType) bool {
	return e.AutoModerationEnabled && e.CredentialConfigured && e.ContentTypeEnabled(ct)
}

// EligibilityProvider supplies the current eligibility snapshot.
type EligibilityProvider func() Eligibility
