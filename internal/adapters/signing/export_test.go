package signing

// SetGetenv replaces the environment lookup used for passphrases.
func (s *Signer) SetGetenv(getenv func(string) string) {
	s.getenv = getenv
}
