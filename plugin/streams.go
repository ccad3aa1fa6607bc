package plugin

import "fmt"

// ProviderStreamID returns the deterministic stream identifier used for
// publishing capability call messages to providers for the given provider
// registration ID.
func ProviderStreamID(provider string) string {
	return fmt.Sprintf("provider:%s:requests", provider)
}

// ResultStreamID returns the deterministic stream identifier used for
// publishing a single capability result message for the given call use
// identifier.
func ResultStreamID(callUseID string) string {
	return fmt.Sprintf("result:%s", callUseID)
}
