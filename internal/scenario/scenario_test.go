package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsbench/mlsbench/internal/template"
)

func TestPartitionGroupsInterleaves(t *testing.T) {
	names := []string{"0", "1", "2", "3", "4", "5"}
	p, err := PartitionGroups(names, 3)
	require.NoError(t, err)

	// Members are taken round-robin so one group spreads over the roster.
	assert.Equal(t, [][]string{{"0", "2", "4"}, {"1", "3", "5"}}, p.Groups)
	assert.Equal(t, []string{"0", "1"}, p.Admins)

	assert.Equal(t, []template.CommGroup{{Community: "community0", Group: "group0"}}, p.Mapping["4"])
	assert.Equal(t, []template.CommGroup{{Community: "community1", Group: "group1"}}, p.Mapping["5"])
	assert.Len(t, p.Mapping, 6)
}

func TestPartitionGroupsSingleGroup(t *testing.T) {
	p, err := PartitionGroups([]string{"a", "b"}, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, p.Groups)
	assert.Equal(t, []string{"a"}, p.Admins)
}

func TestPartitionGroupsRejectsUnevenSplit(t *testing.T) {
	_, err := PartitionGroups([]string{"0", "1", "2", "3", "4"}, 3)
	assert.Error(t, err)

	_, err = PartitionGroups([]string{"0", "1"}, 0)
	assert.Error(t, err)
}

func TestEchoCommand(t *testing.T) {
	got := EchoCommand("---\nds_url_str: ws://h:3000/\n", "CliClientConfig.yaml")
	want := "echo '---' > CliClientConfig.yaml" +
		" && echo 'ds_url_str: ws://h:3000/' >> CliClientConfig.yaml"
	assert.Equal(t, want, got)
}

func TestEchoCommandQuotesSingleQuotes(t *testing.T) {
	got := EchoCommand("it's here", "f")
	assert.Equal(t, `echo 'it'\''s here' > f`, got)
}

func TestEchoCommandSkipsEmptyLines(t *testing.T) {
	got := EchoCommand("a\n\nb\n", "f")
	assert.Equal(t, "echo 'a' > f && echo 'b' >> f", got)
}
