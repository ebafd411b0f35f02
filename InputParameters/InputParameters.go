package InputParameters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ghodss/yaml"

	"github.com/notargets/goamr/driver"
	"github.com/notargets/goamr/mesh"
)

type FieldParameters struct {
	Name string `json:"Name" toml:"Name"`
	Kind string `json:"Kind" toml:"Kind"` // scalar, vector1, vector2, vector3
}

type AngleParameters struct {
	Name  string `json:"Name" toml:"Name"`
	NZeta int    `json:"NZeta" toml:"NZeta"`
	NPsi  int    `json:"NPsi" toml:"NPsi"`
}

type RefineParameters struct {
	Level int      `json:"Level" toml:"Level"`
	LX    [3]int64 `json:"LX" toml:"LX"`
}

// Parameters obtained from a YAML or TOML problem file
type InputParameters struct {
	Title      string             `json:"Title" toml:"Title"`
	Dim        int                `json:"Dim" toml:"Dim"`
	RootBlocks [3]int64           `json:"RootBlocks" toml:"RootBlocks"`
	BlockCells [3]int             `json:"BlockCells" toml:"BlockCells"`
	NGhost     int                `json:"NGhost" toml:"NGhost"`
	DomainMin  [3]float64         `json:"DomainMin" toml:"DomainMin"`
	DomainMax  [3]float64         `json:"DomainMax" toml:"DomainMax"`
	MaxLevel   int                `json:"MaxLevel" toml:"MaxLevel"`
	Boundaries map[string]string  `json:"Boundaries" toml:"Boundaries"` // Face name to policy name
	Fields     []FieldParameters  `json:"Fields" toml:"Fields"`
	Angles     AngleParameters    `json:"Angles" toml:"Angles"`
	Refine     []RefineParameters `json:"Refine" toml:"Refine"`

	NumRanks            int     `json:"NumRanks" toml:"NumRanks"`
	NumThreads          int     `json:"NumThreads" toml:"NumThreads"`
	NumStages           int     `json:"NumStages" toml:"NumStages"`
	Dt                  float64 `json:"Dt" toml:"Dt"`
	FinalTime           float64 `json:"FinalTime" toml:"FinalTime"`
	MaxCycles           int     `json:"MaxCycles" toml:"MaxCycles"`
	LoadBalanceInterval int     `json:"LoadBalanceInterval" toml:"LoadBalanceInterval"`
	RegridInterval      int     `json:"RegridInterval" toml:"RegridInterval"`
	AdaptiveCost        bool    `json:"AdaptiveCost" toml:"AdaptiveCost"`

	// Demo problem: a Gaussian pulse in variable 0 smoothed by diffusion
	PulseCenter       [3]float64 `json:"PulseCenter" toml:"PulseCenter"`
	PulseWidth        float64    `json:"PulseWidth" toml:"PulseWidth"`
	Diffusivity       float64    `json:"Diffusivity" toml:"Diffusivity"`
	RefineThreshold   float64    `json:"RefineThreshold" toml:"RefineThreshold"`
	DerefineThreshold float64    `json:"DerefineThreshold" toml:"DerefineThreshold"`
}

func (ip *InputParameters) Parse(data []byte) error {
	return yaml.Unmarshal(data, ip)
}

func (ip *InputParameters) ParseTOML(data []byte) (err error) {
	_, err = toml.Decode(string(data), ip)
	return
}

// ParseFile picks the decoder from the file name, YAML unless it ends in .toml
func (ip *InputParameters) ParseFile(name string, data []byte) error {
	if strings.HasSuffix(strings.ToLower(name), ".toml") {
		return ip.ParseTOML(data)
	}
	return ip.Parse(data)
}

func (ip *InputParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", ip.Title)
	fmt.Printf("[%d]\t\t\t\t= Dim\n", ip.Dim)
	fmt.Printf("%v\t\t\t= RootBlocks\n", ip.RootBlocks)
	fmt.Printf("%v\t\t\t= BlockCells\n", ip.BlockCells)
	fmt.Printf("[%d]\t\t\t\t= MaxLevel\n", ip.MaxLevel)
	fmt.Printf("[%d]\t\t\t\t= NumRanks\n", ip.NumRanks)
	fmt.Printf("%8.5f\t\t= Dt\n", ip.Dt)
	fmt.Printf("%8.5f\t\t= FinalTime\n", ip.FinalTime)
	keys := make([]string, len(ip.Boundaries))
	i := 0
	for k := range ip.Boundaries {
		keys[i] = k
		i++
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("Boundaries[%s] = %v\n", key, ip.Boundaries[key])
	}
	for _, f := range ip.Fields {
		fmt.Printf("Field[%s] = %s\n", f.Name, f.Kind)
	}
}

var faceNameMap = map[string]mesh.BoundaryFace{
	"innerx1": mesh.InnerX1, "outerx1": mesh.OuterX1,
	"innerx2": mesh.InnerX2, "outerx2": mesh.OuterX2,
	"innerx3": mesh.InnerX3, "outerx3": mesh.OuterX3,
}

// MeshConfig converts the parameters into a mesh configuration. Faces along
// inactive dimensions may be left out.
func (ip *InputParameters) MeshConfig() (cfg mesh.MeshConfig, err error) {
	cfg = mesh.MeshConfig{
		Dim:        ip.Dim,
		RootBlocks: ip.RootBlocks,
		BlockCells: ip.BlockCells,
		NGhost:     ip.NGhost,
		DomainMin:  ip.DomainMin,
		DomainMax:  ip.DomainMax,
		MaxLevel:   ip.MaxLevel,
		NZeta:      ip.Angles.NZeta,
		NPsi:       ip.Angles.NPsi,
		NumRanks:   ip.NumRanks,
	}
	for name, policy := range ip.Boundaries {
		face, ok := faceNameMap[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return cfg, fmt.Errorf("%w: unknown face %q", mesh.ErrInvalidConfig, name)
		}
		if cfg.Boundaries[face], err = mesh.ParseBoundaryName(policy); err != nil {
			return
		}
	}
	for _, f := range ip.Fields {
		var kind mesh.FieldKind
		if kind, err = mesh.ParseFieldKind(f.Kind); err != nil {
			return
		}
		if kind == mesh.Angle {
			return cfg, fmt.Errorf("%w: angle field %s must be declared under Angles",
				mesh.ErrInvalidConfig, f.Name)
		}
		cfg.Fields = append(cfg.Fields, mesh.FieldSpec{Name: f.Name, Kind: kind})
	}
	if ip.Angles.NZeta > 0 && ip.Angles.NPsi > 0 {
		name := ip.Angles.Name
		if name == "" {
			name = "ir"
		}
		cfg.Fields = append(cfg.Fields, mesh.AngleSpecs(name, ip.Angles.NZeta, ip.Angles.NPsi)...)
	}
	for _, r := range ip.Refine {
		cfg.Refine = append(cfg.Refine, mesh.LogicalLocation{Level: r.Level, LX: r.LX})
	}
	err = cfg.Validate()
	return
}

// DriverConfig converts the run controls. Regridding uses the demo gradient
// criterion when RegridInterval is set.
func (ip *InputParameters) DriverConfig() (cfg driver.Config) {
	cfg = driver.Config{
		NumRanks:            max(ip.NumRanks, 1),
		NumThreads:          ip.NumThreads,
		NumStages:           max(ip.NumStages, 1),
		Dt:                  ip.Dt,
		FinalTime:           ip.FinalTime,
		MaxCycles:           ip.MaxCycles,
		LoadBalanceInterval: ip.LoadBalanceInterval,
		RegridInterval:      ip.RegridInterval,
		AdaptiveCost:        ip.AdaptiveCost,
	}
	if ip.RegridInterval > 0 {
		cfg.Refine = driver.GradientRefine(ip.Dim, ip.RefineThreshold, ip.DerefineThreshold)
	}
	return
}

// Pulse returns the demo initial condition, centered in the domain with a
// tenth of its X1 extent as width unless set
func (ip *InputParameters) Pulse() (center [3]float64, width float64) {
	center, width = ip.PulseCenter, ip.PulseWidth
	if center == [3]float64{} {
		for d := 0; d < 3; d++ {
			center[d] = 0.5 * (ip.DomainMin[d] + ip.DomainMax[d])
		}
	}
	if width <= 0 {
		width = 0.1 * (ip.DomainMax[0] - ip.DomainMin[0])
	}
	return
}
