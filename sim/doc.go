// Package sim provides the batched rigid-body simulation core for loco-sim.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - model.go: Robot descriptions (bodies, joints, actuators) and their validation
//   - state.go: The batched state layout, one row per instance
//   - world.go: Reset/step over all instances, fault detection, domain randomization
//
// # Architecture
//
// The sim package owns physics, tasks and RNG partitioning; the training
// pipeline lives in sub-packages:
//   - sim/command/: Target commands fed to the policy (velocity setpoints, goals)
//   - sim/policy/: Gaussian MLP policy, observation normalization, parameter store
//   - sim/rollout/: Batched experience collection and greedy evaluation
//   - sim/train/: GAE, clipped PPO updates, checkpoints, the optimizer loop
//   - sim/trace/: Per-iteration training records written as YAML header + CSV data
//   - sim/deploy/: Robot interface checks and deployment artifacts
//
// Backends register through the backend registry in task.go; tasks compose a
// backend with reward terms, termination conditions and a command source.
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - Backend: batched reset/step over instances plus static robot metadata
//   - Task: observation encoding, reward terms, termination conditions
//   - RewardTerm: one named, weighted component of the per-step reward
//   - Termination: one reason an episode ends, checked after every step
//
// All randomness flows through PartitionedRNG so subsystems draw from named
// streams and runs replay bit-identically for a fixed seed.
package sim
