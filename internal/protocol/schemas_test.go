package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, raw string) {
		t.Helper()
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	cmdSchema := compile("cmd.schema.json")
	msgSchema := compile("msg.schema.json")
	obsSchema := compile("obs.schema.json")

	validate(helloSchema, `{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "name":"spelunker",
	  "admin_token":"hunter2"
	}`)

	validate(welcomeSchema, `{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "agent_id":"A1",
	  "world_params":{
	    "tick_rate_hz":5,
	    "min_height":-64,
	    "max_height":320,
	    "obs_radius":7,
	    "seed":1337
	  },
	  "spawn":[0,65,0],
	  "terrain":{"center":[0,65,0],"radius":7,"voxels_rle":"AAE="}
	}`)

	validate(cmdSchema, `{"type":"CMD","op":"new"}`)
	validate(cmdSchema, `{"type":"CMD","op":"reload"}`)
	validate(cmdSchema, `{"type":"CMD","op":"random"}`)

	validate(msgSchema, `{"type":"MSG","level":"info","text":"Cave generated!"}`)

	validate(obsSchema, `{
	  "type":"OBS",
	  "tick":42,
	  "pos":[10,70,10],
	  "terrain":{"center":[10,70,10],"radius":7,"voxels_rle":"AAE="}
	}`)
}

func TestSchemas_RejectBadCmd(t *testing.T) {
	p := filepath.Join("..", "..", "schemas", "cmd.schema.json")
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	var v any
	_ = json.Unmarshal([]byte(`{"type":"CMD","op":"teleport"}`), &v)
	if err := s.Validate(v); err == nil {
		t.Fatalf("unknown op should fail validation")
	}
}
