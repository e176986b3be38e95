package engine

import "chainjudge/internal/sandbox/security"

// ProfileResolver resolves a profile name into an isolation profile.
type ProfileResolver interface {
	Resolve(profile string) (security.IsolationProfile, error)
}

// Config controls sandbox engine behavior.
type Config struct {
	CgroupRoot           string `yaml:"cgroupRoot"`
	SeccompDir           string `yaml:"seccompDir"`
	HelperPath           string `yaml:"helperPath"`
	StdoutStderrMaxBytes int64  `yaml:"stdoutStderrMaxBytes"`
	EnableSeccomp        bool   `yaml:"enableSeccomp"`
	EnableCgroup         bool   `yaml:"enableCgroup"`
	EnableNamespaces     bool   `yaml:"enableNamespaces"`
}

// StaticProfiles is a ProfileResolver backed by a fixed map.
type StaticProfiles map[string]security.IsolationProfile

func (s StaticProfiles) Resolve(profile string) (security.IsolationProfile, error) {
	p, ok := s[profile]
	if !ok {
		return security.IsolationProfile{}, errUnknownProfile(profile)
	}
	return p, nil
}
