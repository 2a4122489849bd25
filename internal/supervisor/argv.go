package supervisor

import "fmt"

// UE4Builder constructs argv the way the Unreal Engine dedicated-server
// manager does: leading args from Data["args"], then -port, an optional
// -beaconport, and the fixed Funapi* trailer every variant shares.
type UE4Builder struct{}

func (b UE4Builder) BuildArgv(req SpawnRequest) []string {
	argv := leadingArgs(req.Data)
	argv = append(argv, fmt.Sprintf("-port=%d", req.Port))
	if req.BeaconPort > 0 {
		argv = append(argv, fmt.Sprintf("-beaconport=%d", req.BeaconPort))
	}
	argv = append(argv, commonTrailer(req)...)
	return argv
}

// UnityBuilder constructs argv the way the Unity dedicated-server manager
// does: leading args, -port, then the mandatory -nographics -batchmode
// pair (skipped in editor mode), -RunDedicatedServer, and the shared
// Funapi* trailer. Beacon ports are a UE4-only concept.
type UnityBuilder struct {
	// EditorMode skips -nographics/-batchmode, matching is_unity_editor
	// in the original manager (used only for local development).
	EditorMode bool
}

func (b UnityBuilder) BuildArgv(req SpawnRequest) []string {
	argv := leadingArgs(req.Data)
	argv = append(argv, fmt.Sprintf("-port=%d", req.Port))
	if !b.EditorMode {
		argv = append(argv, "-nographics", "-batchmode")
	}
	argv = append(argv, "-RunDedicatedServer")
	argv = append(argv, commonTrailer(req)...)
	return argv
}

// commonTrailer renders the three flags both engine variants append after
// their port arguments: match id, the manager's own REST callback
// address, and the heartbeat interval the child should observe.
func commonTrailer(req SpawnRequest) []string {
	return []string{
		fmt.Sprintf("-FunapiMatchID=%s", req.MatchID),
		fmt.Sprintf("-FunapiManagerServer=127.0.0.1:%d", req.RestPort),
		fmt.Sprintf("-FunapiHeartbeat=%d", int(req.HeartbeatInterval.Seconds())),
	}
}

// leadingArgs copies Data["args"] (the game server's own launch
// arguments), which always come first in the child's argv, and deletes
// the "args" key from Data in place so it is not part of the persisted
// match data.
func leadingArgs(data map[string]any) []string {
	raw, ok := data["args"].([]string)
	delete(data, "args")
	if !ok {
		return nil
	}
	out := make([]string, len(raw))
	copy(out, raw)
	return out
}
