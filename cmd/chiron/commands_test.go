package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/smallbiznis/chiron/internal/paymentcore"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"migrate"},
		{"sync"},
		{"access-levels"},
		{"customer", "create"},
		{"stripe-event"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("migrate"))
}

func TestSyncRequiresUser(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"sync"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"user"`)
}

func TestAccessLevelsOutputSorted(t *testing.T) {
	levels := paymentcore.AccessLevels{
		"pro":   {{ProviderSubscriptionID: "sub_2"}, {ProviderSubscriptionID: "sub_3"}},
		"basic": {{ProviderSubscriptionID: "sub_1"}},
	}
	out := accessLevelsOutput(levels)
	require.Len(t, out, 2)
	assert.Equal(t, "basic", out[0].Level)
	assert.Equal(t, []string{"sub_2", "sub_3"}, out[1].Subscriptions)
}

func TestReadEventFromStdin(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader(`{"id":"evt_1","type":"customer.subscription.updated"}`))
	event, err := readEvent(cmd, "-")
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.EqualValues(t, "customer.subscription.updated", event.Type)
}

func TestReadEventRejectsGarbage(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader("not json"))
	_, err := readEvent(cmd, "-")
	assert.Error(t, err)
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, paymentcore.SyncResult{Created: 2}))
	assert.Contains(t, buf.String(), `"Created": 2`)
}
