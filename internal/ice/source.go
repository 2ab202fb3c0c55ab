package ice

import (
	"context"
	"log/slog"

	pkgerrors "rtcdoctor/pkg/errors"
)

// Source assembles the server list for a run from static URIs and an
// optional remote list.
type Source struct {
	Static     []string
	Username   string
	Credential string
	// ListURL, when set, is fetched and its servers appended.
	ListURL string

	Registry *Registry
	Fetcher  *Fetcher
	Decoder  *Decoder
	Logger   *slog.Logger
}

// Resolve returns the parsed servers. A failing remote list is logged and
// skipped as long as static servers remain.
func (s *Source) Resolve(ctx context.Context) ([]Server, error) {
	registry := s.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	servers, err := registry.ParseAll(s.Static, s.Username, s.Credential)
	if err != nil {
		return nil, err
	}

	if s.ListURL != "" {
		remote, err := s.fetchRemote(ctx, registry)
		if err != nil {
			if len(servers) == 0 {
				return nil, err
			}
			logger.Warn("ice server list unavailable, using static servers", "url", s.ListURL, "error", err)
		}
		servers = append(servers, remote...)
	}

	if len(servers) == 0 {
		return nil, pkgerrors.ErrServerListEmpty
	}
	return servers, nil
}

func (s *Source) fetchRemote(ctx context.Context, registry *Registry) ([]Server, error) {
	fetcher := s.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(DefaultFetcherConfig())
	}
	decoder := s.Decoder
	if decoder == nil {
		decoder = NewDecoder()
	}

	body, err := fetcher.Fetch(ctx, s.ListURL)
	if err != nil {
		return nil, err
	}
	entries, err := decoder.Decode(body)
	if err != nil {
		return nil, &pkgerrors.ServerError{URL: s.ListURL, Err: err}
	}

	var servers []Server
	for _, entry := range entries {
		username, credential := entry.Username, entry.Credential
		if username == "" {
			username, credential = s.Username, s.Credential
		}
		parsed, err := registry.ParseAll(entry.URLs, username, credential)
		if err != nil {
			return nil, err
		}
		servers = append(servers, parsed...)
	}
	return servers, nil
}
