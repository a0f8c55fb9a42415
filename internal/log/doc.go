// Package log provides the findsim loggers, built on log/slog.
//
// SecureHandler masks credentials before they reach any output:
//   - attributes named like credentials (key, api_key, authorization, token)
//   - values that look like secrets (bearer tokens, JWTs, sk- keys)
//   - the key= query parameter of URLs, which is how the search API
//     receives its credential
//
// Logs go to stderr as text, or to a size-rotated JSON file when a log
// file is configured:
//
//	logger, closer, err := log.Setup(os.Stderr, cfg.LogFile, cfg.Verbose)
//	if err != nil {
//	    return err
//	}
//	defer closer.Close()
//	slog.SetDefault(logger)
package log
