// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ClusterCockpit/microredis-go/log"
)

// EvictionPolicy names one of the supported maxmemory eviction policies.
type EvictionPolicy string

const (
	EvictionNoEviction     EvictionPolicy = "noeviction"
	EvictionAllKeysLRU     EvictionPolicy = "allkeys-lru"
	EvictionVolatileLRU    EvictionPolicy = "volatile-lru"
	EvictionAllKeysRandom  EvictionPolicy = "allkeys-random"
	EvictionVolatileRandom EvictionPolicy = "volatile-random"
)

// Config is the full set of server knobs. Field names are the JSON keys
// accepted in the optional config file; every field has a usable
// zero-config default.
type Config struct {
	Bind       string `json:"bind"`
	Port       int    `json:"port"`
	MaxClients int    `json:"maxclients"`

	// Idle-read timeout in seconds for a client connection. 0 disables it.
	Timeout int `json:"timeout"`

	MaxMemory       int64          `json:"maxmemory"`
	MaxMemoryPolicy EvictionPolicy `json:"maxmemory_policy"`

	// RequirePass, if non-empty, is the single shared password checked by
	// the AUTH command. Loaded from config or from the REQUIREPASS
	// environment variable (the latter takes precedence, so secrets never
	// need to live in the checked-in config file).
	RequirePass string `json:"requirepass"`

	DBFilename string `json:"dbfilename"`
	Dir        string `json:"dir"`

	SaveIntervalSeconds int `json:"save_interval"`
	MinChanges          int `json:"min_changes"`

	MaxKeys        int `json:"max_keys"`
	MaxArgSize     int `json:"max_arg_size"`
	MaxArgCount    int `json:"max_arg_count"`
	ParserBufCap   int `json:"parser_buf_cap"`

	// RateLimitPerSecond, if > 0, caps requests per client address per
	// second via the optional rate limiter middleware. 0 disables it.
	RateLimitPerSecond int `json:"rate_limit_per_second"`
}

// Keys holds the effective, process-wide configuration. It starts out at
// Defaults() and is overwritten by Init.
var Keys = Defaults()

func Defaults() Config {
	return Config{
		Bind:                "0.0.0.0",
		Port:                6379,
		MaxClients:          8,
		Timeout:             300,
		MaxMemory:           0,
		MaxMemoryPolicy:     EvictionNoEviction,
		DBFilename:          "dump.mrdb",
		Dir:                 ".",
		SaveIntervalSeconds: 300,
		MinChanges:          100,
		MaxKeys:             50000,
		MaxArgSize:          512 * 1024,
		MaxArgCount:         100,
		ParserBufCap:        4096,
		RateLimitPerSecond:  0,
	}
}

// Init loads .env (if present), then layers an optional JSON config file
// over the defaults, validating it against Schema first. A missing config
// file is not an error: Keys simply stays at its defaults plus whatever
// .env supplied. A malformed file or schema violation aborts the process,
// since continuing would silently run with a config the operator didn't
// intend.
func Init(configFile string) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("config: could not load .env: %s", err.Error())
	}

	Keys = Defaults()

	if configFile != "" {
		raw, err := os.ReadFile(configFile)
		if err != nil {
			if os.IsNotExist(err) {
				log.Warnf("config: %s does not exist, using defaults", configFile)
			} else {
				log.Fatalf("config: reading %s: %s", configFile, err.Error())
			}
		} else {
			if err := Validate(raw); err != nil {
				log.Fatalf("config: %s failed schema validation: %s", configFile, err.Error())
			}
			dec := json.NewDecoder(bytes.NewReader(raw))
			if err := dec.Decode(&Keys); err != nil {
				log.Fatalf("config: could not decode %s: %s", configFile, err.Error())
			}
		}
	}

	if pw, ok := os.LookupEnv("REQUIREPASS"); ok {
		Keys.RequirePass = pw
	}
}

// Validate checks raw JSON config bytes against Schema using
// santhosh-tekuri/jsonschema.
func Validate(raw []byte) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return Schema.Validate(v)
}

// Schema is compiled once from schemaJSON at package init.
var Schema *jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("config.schema.json", bytes.NewReader([]byte(schemaJSON))); err != nil {
		panic("config: invalid embedded schema: " + err.Error())
	}
	s, err := c.Compile("config.schema.json")
	if err != nil {
		panic("config: could not compile embedded schema: " + err.Error())
	}
	Schema = s
}

const schemaJSON = `{
	"type": "object",
	"properties": {
		"bind": {"type": "string"},
		"port": {"type": "integer", "minimum": 1, "maximum": 65535},
		"maxclients": {"type": "integer", "minimum": 1},
		"timeout": {"type": "integer", "minimum": 0},
		"maxmemory": {"type": "integer", "minimum": 0},
		"maxmemory_policy": {
			"type": "string",
			"enum": ["noeviction", "allkeys-lru", "volatile-lru", "allkeys-random", "volatile-random"]
		},
		"requirepass": {"type": "string"},
		"dbfilename": {"type": "string"},
		"dir": {"type": "string"},
		"save_interval": {"type": "integer", "minimum": 0},
		"min_changes": {"type": "integer", "minimum": 0},
		"max_keys": {"type": "integer", "minimum": 1},
		"max_arg_size": {"type": "integer", "minimum": 1},
		"max_arg_count": {"type": "integer", "minimum": 1},
		"parser_buf_cap": {"type": "integer", "minimum": 512},
		"rate_limit_per_second": {"type": "integer", "minimum": 0}
	},
	"additionalProperties": false
}`
