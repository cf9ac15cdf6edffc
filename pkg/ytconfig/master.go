package ytconfig

import (
	"path"
)

type MasterChangelogs struct {
	Path     string    `yson:"path"`
	IOEngine *IOEngine `yson:"io_engine,omitempty"`
}

type MasterSnapshots struct {
	Path string `yson:"path"`
}

type HydraManager struct {
	MaxChangelogCountToKeep int `yson:"max_changelog_count_to_keep"`
	MaxSnapshotCountToKeep  int `yson:"max_snapshot_count_to_keep"`
}

type CypressManager struct {
	DefaultTableReplicationFactor   int `yson:"default_table_replication_factor,omitempty"`
	DefaultFileReplicationFactor    int `yson:"default_file_replication_factor,omitempty"`
	DefaultJournalReplicationFactor int `yson:"default_journal_replication_factor,omitempty"`
	DefaultJournalReadQuorum        int `yson:"default_journal_read_quorum,omitempty"`
	DefaultJournalWriteQuorum       int `yson:"default_journal_write_quorum,omitempty"`
}

type MasterServer struct {
	CommonServer
	Snapshots        MasterSnapshots  `yson:"snapshots"`
	Changelogs       MasterChangelogs `yson:"changelogs"`
	UseNewHydra      bool             `yson:"use_new_hydra"`
	HydraManager     HydraManager     `yson:"hydra_manager"`
	CypressManager   CypressManager   `yson:"cypress_manager"`
	PrimaryMaster    MasterCell       `yson:"primary_master"`
	SecondaryMasters []MasterCell     `yson:"secondary_masters"`
}

func getMasterServerCarcass(instance *Instance, debug bool) MasterServer {
	var c MasterServer
	c.UseNewHydra = true

	c.RPCPort = int32(instance.RPCPort)
	c.MonitoringPort = int32(instance.MonitoringPort)

	c.HydraManager.MaxSnapshotCountToKeep = 2
	c.HydraManager.MaxChangelogCountToKeep = 2

	c.Changelogs.Path = path.Join(instance.Dir, "changelogs")
	c.Snapshots.Path = path.Join(instance.Dir, "snapshots")

	c.SecondaryMasters = []MasterCell{}
	c.Logging = createLogging(instance.Dir, "master", debug)

	return c
}

func configureMasterServerCypressManager(maxReplicationFactor int32, c *CypressManager) {
	switch {
	case maxReplicationFactor <= 1:
		c.DefaultJournalReadQuorum = 1
		c.DefaultJournalWriteQuorum = 1
		c.DefaultTableReplicationFactor = 1
		c.DefaultFileReplicationFactor = 1
		c.DefaultJournalReplicationFactor = 1
	case maxReplicationFactor == 2:
		c.DefaultJournalReadQuorum = 2
		c.DefaultJournalWriteQuorum = 2
		c.DefaultTableReplicationFactor = 2
		c.DefaultFileReplicationFactor = 2
		c.DefaultJournalReplicationFactor = 2
	case maxReplicationFactor >= 3 && maxReplicationFactor < 5:
		c.DefaultJournalReadQuorum = 2
		c.DefaultJournalWriteQuorum = 2
		c.DefaultTableReplicationFactor = 3
		c.DefaultFileReplicationFactor = 3
		c.DefaultJournalReplicationFactor = 3
	case maxReplicationFactor >= 5:
		c.DefaultJournalReadQuorum = 3
		c.DefaultJournalWriteQuorum = 3
		c.DefaultTableReplicationFactor = 3
		c.DefaultFileReplicationFactor = 3
		c.DefaultJournalReplicationFactor = 5
	}
}
