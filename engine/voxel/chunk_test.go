package voxel

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestGreedyMeshingSingleBlock(t *testing.T) {
	c := NewChunk(nil, 0, 0, 0)
	c.SetBlock(0, 0, 0, NewBlock(StoneBlock))
	mesh := c.GreedyMeshing()
	if got := mesh.TriangleCount(); got != 12 {
		t.Fatalf("expected 12 triangles for a single block, got %d", got)
	}
}

func TestGreedyMeshingMergesEqualFaces(t *testing.T) {
	c := NewChunk(nil, 0, 0, 0)
	c.SetBlock(0, 0, 0, NewBlock(StoneBlock))
	c.SetBlock(1, 0, 0, NewBlock(StoneBlock))
	if got := c.GreedyMeshing().TriangleCount(); got != 12 {
		t.Fatalf("expected two equal blocks to merge into 12 triangles, got %d", got)
	}

	c.SetBlock(1, 0, 0, NewBlock(DirtBlock))
	// the four side faces no longer merge
	if got := c.GreedyMeshing().TriangleCount(); got != 20 {
		t.Fatalf("expected 20 triangles for two different blocks, got %d", got)
	}
}

func TestGreedyMeshingSkipsCleanChunk(t *testing.T) {
	c := NewChunk(nil, 0, 0, 0)
	c.SetBlock(3, 3, 3, NewBlock(StoneBlock))
	first := c.GreedyMeshing().TriangleCount()
	c.data[blockIndex(3, 3, 3)] = NewAirBlock() // bypass SetBlock, chunk stays clean
	if got := c.GreedyMeshing().TriangleCount(); got != first {
		t.Fatalf("clean chunk was remeshed: %d != %d", got, first)
	}
}

func TestChunkStagesWithHeightmapGenerator(t *testing.T) {
	gen := NewHeightmapGenerator(42)
	c := NewChunk(gen, 1, 0, -2)

	if err := c.Populate(); err != nil {
		t.Fatalf("populate: %v", err)
	}
	if c.SolidCount() == 0 {
		t.Fatalf("populate produced an empty chunk")
	}
	if err := c.Shape(); err != nil {
		t.Fatalf("shape: %v", err)
	}

	origin := c.Position().Mul(CHUNK_SIZE)
	h := gen.HeightAt(origin.X, origin.Z) - 1
	top, ok := c.GetLocalBlock(0, h, 0)
	if !ok {
		t.Fatalf("surface %d outside of chunk", h)
	}
	if top.ID != GrassBlock && top.ID != SandBlock {
		t.Fatalf("expected grass or sand on the surface, got %d", top.ID)
	}

	if err := c.BuildMesh(); err != nil {
		t.Fatalf("build mesh: %v", err)
	}
	if c.Mesh().TriangleCount() == 0 {
		t.Fatalf("expected a non-empty mesh")
	}
}

func TestChunkWithoutGeneratorFails(t *testing.T) {
	c := NewChunk(nil, 0, 0, 0)
	if err := c.Populate(); err == nil {
		t.Fatalf("expected populate without generator to fail")
	}
	if err := c.Shape(); err == nil {
		t.Fatalf("expected shape without generator to fail")
	}
}

func TestRawBlocksRoundTrip(t *testing.T) {
	c := NewChunk(nil, 0, 0, 0)
	c.SetBlock(5, 6, 7, NewBlock(SandBlock))
	other := NewChunk(nil, 0, 0, 0)
	if err := other.SetRawBlocks(c.RawBlocks()); err != nil {
		t.Fatalf("set raw blocks: %v", err)
	}
	if b, _ := other.GetLocalBlock(5, 6, 7); b.ID != SandBlock {
		t.Fatalf("expected sand at 5,6,7, got %d", b.ID)
	}
	if err := other.SetRawBlocks([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected short block slice to be rejected")
	}
}

func TestChunkBounds(t *testing.T) {
	c := NewChunk(nil, 1, 2, 3)
	want := mgl32.Vec3{32, 64, 96}
	if c.AABBMin() != want {
		t.Fatalf("AABBMin = %v, want %v", c.AABBMin(), want)
	}
	if got := c.GetMatrix().Mul4x1(mgl32.Vec4{0, 0, 0, 1}).Vec3(); got != want {
		t.Fatalf("matrix origin = %v, want %v", got, want)
	}
	if c.AABBMax().Sub(c.AABBMin()) != (mgl32.Vec3{32, 32, 32}) {
		t.Fatalf("unexpected chunk extent")
	}
}

func TestFloorDivAndMod(t *testing.T) {
	cases := []struct{ a, b, div, mod int32 }{
		{0, 32, 0, 0},
		{31, 32, 0, 31},
		{32, 32, 1, 0},
		{-1, 32, -1, 31},
		{-32, 32, -1, 0},
		{-33, 32, -2, 31},
	}
	for _, tc := range cases {
		if got := FloorDiv(tc.a, tc.b); got != tc.div {
			t.Errorf("FloorDiv(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.div)
		}
		if got := Mod(tc.a, tc.b); got != tc.mod {
			t.Errorf("Mod(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.mod)
		}
	}
}
