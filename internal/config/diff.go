package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/pohlai88/aibos-SaaS-windows-1-sub015/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (admin token, provider auth tokens)
// are only ever reported as "set"/"not set".
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.max_concurrency", newCfg.Dispatch.MaxConcurrency),
			logx.Int("dispatch.max_retries", newCfg.Dispatch.MaxRetriesOrDefault()),
			logx.String("dispatch.strategy", newCfg.Dispatch.Strategy),
			logx.String("dispatch.base_backoff", strings.TrimSpace(newCfg.Dispatch.BaseBackoff)),
			logx.String("dispatch.tick_interval", strings.TrimSpace(newCfg.Dispatch.TickInterval)),
		)
	}

	if providersChanged(oldCfg.Providers, newCfg.Providers) {
		changed = append(changed, "providers")
		attrs = append(attrs, logx.Int("providers.count", len(newCfg.Providers)))
	}

	// Admin (never log token).
	oa, na := oldCfg.Admin, newCfg.Admin
	oa.Token, na.Token = "", ""
	tokenFlip := (strings.TrimSpace(oldCfg.Admin.Token) != "") != (strings.TrimSpace(newCfg.Admin.Token) != "")
	if !reflect.DeepEqual(oa, na) || tokenFlip {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", strings.TrimSpace(newCfg.Admin.Addr)),
			logx.Bool("admin.token_set", strings.TrimSpace(newCfg.Admin.Token) != ""),
			logx.Bool("admin.allow_insecure", newCfg.Admin.AllowInsecure),
		)
	}

	if janitorChanged(oldCfg.Janitor, newCfg.Janitor) {
		changed = append(changed, "janitor")
		nj := derefJanitor(newCfg.Janitor)
		attrs = append(attrs,
			logx.Bool("janitor.enabled", nj.Enabled == nil || *nj.Enabled),
			logx.String("janitor.schedule", strings.TrimSpace(nj.Schedule)),
			logx.String("janitor.retention", strings.TrimSpace(nj.Retention)),
		)
	}

	if storageChanged(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		var driver string
		var pathSet bool
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
			pathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
		}
		attrs = append(attrs,
			logx.String("storage.driver", driver),
			logx.Bool("storage.path_set", pathSet),
		)
	}

	if !reflect.DeepEqual(oldCfg.Tracing, newCfg.Tracing) {
		changed = append(changed, "tracing")
		attrs = append(attrs, logx.Bool("tracing.enabled", newCfg.Tracing.Enabled))
	}

	sort.Strings(changed)
	return changed, attrs
}

func providersChanged(oldP, newP []ProviderConfig) bool {
	if len(oldP) != len(newP) {
		return true
	}
	for i := range oldP {
		o, n := oldP[i], newP[i]
		// Compare token presence, not value.
		oSet, nSet := o.AuthToken != "", n.AuthToken != ""
		o.AuthToken, n.AuthToken = "", ""
		if oSet != nSet || !reflect.DeepEqual(o, n) {
			return true
		}
	}
	return false
}

func janitorChanged(oldJ, newJ *JanitorConfig) bool {
	return !reflect.DeepEqual(derefJanitor(oldJ), derefJanitor(newJ)) ||
		(oldJ == nil) != (newJ == nil)
}

func derefJanitor(j *JanitorConfig) JanitorConfig {
	if j == nil {
		return JanitorConfig{}
	}
	return *j
}

func storageChanged(oldS, newS *StorageConfig) bool {
	var o, n StorageConfig
	if oldS != nil {
		o = *oldS
	}
	if newS != nil {
		n = *newS
	}
	return !reflect.DeepEqual(o, n)
}
