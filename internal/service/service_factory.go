package service

import (
	"otp-service/internal/analytics"
	"otp-service/internal/bucketing"
	"otp-service/internal/config"
	"otp-service/internal/hashing"
	"otp-service/internal/otp"
	"otp-service/internal/ratelimit"
	"otp-service/internal/repository/scylla"
	"otp-service/internal/telephony"
)

// ServiceFactory creates and caches service instances
type ServiceFactory struct {
	counters      ratelimit.CounterStore
	sessions      SessionStore
	transport     telephony.Transport
	gpoRepo       scylla.GpoRepository
	generator     *otp.Generator
	fingerprinter *hashing.Fingerprinter
	experiment    *bucketing.Experiment
	recorder      analytics.Recorder
	costs         analytics.CostTracker
	cfg           *config.Config

	phoneService *PhoneConfirmationService
	gpoService   *GpoConfirmationService
}

func NewServiceFactory(
	counters ratelimit.CounterStore,
	sessions SessionStore,
	transport telephony.Transport,
	gpoRepo scylla.GpoRepository,
	generator *otp.Generator,
	fingerprinter *hashing.Fingerprinter,
	experiment *bucketing.Experiment,
	recorder analytics.Recorder,
	costs analytics.CostTracker,
	cfg *config.Config,
) *ServiceFactory {
	return &ServiceFactory{
		counters:      counters,
		sessions:      sessions,
		transport:     transport,
		gpoRepo:       gpoRepo,
		generator:     generator,
		fingerprinter: fingerprinter,
		experiment:    experiment,
		recorder:      recorder,
		costs:         costs,
		cfg:           cfg,
	}
}

// PhoneConfirmationService returns the phone dispatcher (singleton)
func (f *ServiceFactory) PhoneConfirmationService() *PhoneConfirmationService {
	if f.phoneService == nil {
		f.phoneService = NewPhoneConfirmationService(
			f.counters,
			f.sessions,
			f.transport,
			f.generator,
			f.fingerprinter,
			f.experiment,
			f.recorder,
			f.cfg,
		)
	}
	return f.phoneService
}

// GpoConfirmationService returns the letter issuer (singleton)
func (f *ServiceFactory) GpoConfirmationService() *GpoConfirmationService {
	if f.gpoService == nil {
		f.gpoService = NewGpoConfirmationService(
			f.gpoRepo,
			f.generator,
			f.fingerprinter,
			f.costs,
		)
	}
	return f.gpoService
}
