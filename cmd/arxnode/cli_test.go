package main

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arx-os/arxlink/internal/keys"
	"github.com/arx-os/arxlink/internal/protocol"
	"github.com/arx-os/arxlink/internal/protocol/frame"
	"github.com/arx-os/arxlink/internal/protocol/object"
	"github.com/arx-os/arxlink/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeConfig runs keygen and returns the config path and master key.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arxnode.toml")
	out, err := execute(t, "keygen", "--write-config", path, "--node", "5", "--building", "42")
	require.NoError(t, err)
	master := strings.TrimSpace(out)
	require.Len(t, master, 2*keys.KeySize)
	return path, master
}

func TestRootCommandHasSubcommands(t *testing.T) {
	testlog.Start(t)
	root := newRootCommand()
	for _, name := range []string{"run", "keygen", "invite", "inspect"} {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestKeygenRequiresIDsForConfig(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "x.toml")
	_, err := execute(t, "keygen", "--write-config", path)
	require.Error(t, err)
}

func TestKeygenRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path, _ := writeConfig(t)
	_, err := execute(t, "keygen", "--write-config", path, "--node", "5", "--building", "42")
	require.Error(t, err)
	_, err = execute(t, "keygen", "--write-config", path, "--node", "5", "--building", "42", "--force")
	require.NoError(t, err)
}

func TestInviteIssueAndAccept(t *testing.T) {
	testlog.Start(t)
	path, _ := writeConfig(t)

	out, err := execute(t, "--config", path, "invite", "issue", "--role", "admin", "--ttl", "2")
	require.NoError(t, err)
	var issued inviteView
	require.NoError(t, yaml.Unmarshal([]byte(out), &issued))
	assert.Equal(t, "admin", issued.Role)
	assert.Equal(t, uint16(5), issued.Issuer)

	out, err = execute(t, "--config", path, "invite", "accept", issued.Token)
	require.NoError(t, err)
	assert.Contains(t, out, "accepted: true")
	assert.Contains(t, out, "role: admin")

	// the hex form is accepted too
	_, err = execute(t, "--config", path, "invite", "accept", issued.Hex)
	require.NoError(t, err)

	_, err = execute(t, "--config", path, "invite", "issue", "--role", "owner")
	require.Error(t, err)
}

func TestInviteAcceptRejectsOtherBuilding(t *testing.T) {
	testlog.Start(t)
	path, _ := writeConfig(t)
	other, _ := writeConfig(t)

	out, err := execute(t, "--config", path, "invite", "issue")
	require.NoError(t, err)
	var issued inviteView
	require.NoError(t, yaml.Unmarshal([]byte(out), &issued))

	_, err = execute(t, "--config", other, "invite", "accept", issued.Token)
	require.Error(t, err)
}

func TestInspectFrame(t *testing.T) {
	testlog.Start(t)
	path, master := writeConfig(t)
	mk, err := keys.ParseKey(master)
	require.NoError(t, err)
	ring, err := keys.NewRing(keys.Config{BuildingID: 42, MasterKey: mk})
	require.NoError(t, err)
	key, ok := ring.FrameKey(7)
	require.True(t, ok)

	s, err := frame.NewSender(frame.SenderConfig{ID: 7, Key: key, Store: frame.NewMemorySequences()})
	require.NoError(t, err)
	typ, body, err := protocol.EncodePayload(protocol.ObjectPayload{Object: object.ArxObject{
		BuildingID: 42,
		ObjectID:   3,
		Type:       object.TypeSensor,
		Geometry:   object.Point{X: 1, Y: 2, Z: 3},
		Properties: object.Properties{object.NameKey("model"): object.StringValue("TH-20")},
	}})
	require.NoError(t, err)
	raw, _, err := s.SealHops(typ, body, 2)
	require.NoError(t, err)
	encoded := hex.EncodeToString(raw)

	out, err := execute(t, "--config", path, "inspect", "--verify", encoded)
	require.NoError(t, err)
	assert.Contains(t, out, "sender: 7")
	assert.Contains(t, out, "sequence: 1")
	assert.Contains(t, out, "hops: 2")
	assert.Contains(t, out, "verified: true")
	assert.Contains(t, out, "model: TH-20")

	raw[len(raw)-1] ^= 0xFF
	out, err = execute(t, "--config", path, "inspect", "--verify", hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Contains(t, out, "verified: false")
}

func TestInspectObjectAndBadInput(t *testing.T) {
	testlog.Start(t)
	b, err := object.Encode(object.ArxObject{
		BuildingID: 1,
		ObjectID:   2,
		Type:       object.TypeSensor,
		Geometry:   object.Point{X: 10},
	})
	require.NoError(t, err)
	out, err := execute(t, "inspect", "--kind", "object", hex.EncodeToString(b))
	require.NoError(t, err)
	assert.Contains(t, out, "object_id: 2")
	assert.Contains(t, out, "kind: point")

	_, err = execute(t, "inspect", "zz")
	require.Error(t, err)
	_, err = execute(t, "inspect", "--kind", "nope", "00")
	require.Error(t, err)
}
