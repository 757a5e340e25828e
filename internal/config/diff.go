package config

import (
	"encoding/json"
	"reflect"
)

// ChangedSections lists the top-level sections that differ between two configs,
// in declaration order.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	ov := reflect.ValueOf(*oldCfg)
	nv := reflect.ValueOf(*newCfg)
	t := ov.Type()

	var out []string
	for i := 0; i < t.NumField(); i++ {
		if reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			continue
		}
		out = append(out, jsonName(t.Field(i)))
	}
	return out
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i]
		}
	}
	if tag == "" {
		return f.Name
	}
	return tag
}

// LiveSections can be applied without a restart.
var LiveSections = map[string]bool{"logging": true, "dispatch": true}

// Redacted returns a JSON view of cfg with secrets blanked, for debug output.
func Redacted(cfg *Config) string {
	if cfg == nil {
		return "null"
	}
	cp := *cfg
	for _, s := range []*string{
		&cp.Telegram.OfficialToken, &cp.Telegram.StudentToken, &cp.Telegram.WebhookSecret,
		&cp.HTTP.BroadcastSecret, &cp.Auth.JWTSecret, &cp.Mail.ClientSecret, &cp.Storage.DSN,
	} {
		if *s != "" {
			*s = "***"
		}
	}
	b, _ := json.Marshal(cp)
	return string(b)
}
