package domain

// AndroidNamespace is the XML namespace of android: attributes.
const AndroidNamespace = "http://schemas.android.com/apk/res/android"

// ManifestInfo is what later stages need to know about a rendered manifest.
type ManifestInfo struct {
	// Package is the package attribute of the manifest element.
	Package string
	// Components holds the fully qualified class names of declared
	// components, sorted and deduplicated.
	Components []string
	// ResourceRefs holds "type/name" references such as "drawable/icon",
	// sorted and deduplicated.
	ResourceRefs []string
}
