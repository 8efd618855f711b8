package addrspace

import (
	"errors"
	"math"
	"math/rand/v2"
)

// Standard node ids of every OPC UA server.
const (
	RootFolderID    = "i=84"
	ObjectsFolderID = "i=85"
	ServerObjectID  = "i=2253"
)

var errAccessDenied = errors.New("BadUserAccessDenied")

// wave is a pure function of the read index, so concurrent reads of one node
// stay deterministic for a given seed.
func wave(seed uint64, base, amp, noise float64, period int) ValueFunc {
	return func(call int) (any, error) {
		r := rand.New(rand.NewPCG(seed, uint64(call)))
		phase := 2 * math.Pi * float64(call) / float64(period)
		v := base + amp*math.Sin(phase) + noise*(r.Float64()*2-1)
		return math.Round(v*100) / 100, nil
	}
}

// Simulation builds a small climate-room plant: three-phase voltages and
// currents, temperatures, humidity, a few constant setpoints, string status
// nodes, string-keyed nodes and an unreadable variable. The values depend
// only on seed and read index.
func Simulation(seed uint64) *Memory {
	m := NewMemory(RootFolderID, "Root")
	objects := m.AddObject(m.RootRef(), ObjectsFolderID, "Objects")

	server := m.AddObject(objects, ServerObjectID, "Server")
	m.AddVariable(server, "i=2255", "NamespaceArray", Constant("http://opcfoundation.org/UA/"))
	m.AddVariable(server, "i=2267", "ServiceLevel", Constant(uint8(255)))

	plant := m.AddObject(objects, "ns=2;i=1000", "Klimaraum")

	power := m.AddObject(plant, "ns=2;i=1100", "Energiezaehler")
	m.AddVariable(power, "ns=2;i=1101", "Spannung_L1", wave(seed+1, 230, 2.5, 0.8, 50))
	m.AddVariable(power, "ns=2;i=1102", "Spannung_L2", wave(seed+2, 231, 2.5, 0.8, 50))
	m.AddVariable(power, "ns=2;i=1103", "Spannung_L3", wave(seed+3, 229, 2.5, 0.8, 50))
	m.AddVariable(power, "ns=2;i=1111", "Strom_L1", wave(seed+4, 12, 4, 0.5, 30))
	m.AddVariable(power, "ns=2;i=1112", "Strom_L2", wave(seed+5, 11, 4, 0.5, 30))
	m.AddVariable(power, "ns=2;i=1121", "Wirkleistung", wave(seed+6, 7800, 1500, 120, 40))
	m.AddVariable(power, "ns=2;i=1131", "Frequenz", wave(seed+7, 50, 0.02, 0.01, 20))
	m.AddVariable(power, "ns=2;i=1140", "Nennspannung", Constant(int32(230)))

	climate := m.AddObject(plant, "ns=2;i=1200", "Klima")
	m.AddVariable(climate, "ns=2;i=1201", "Temperatur_Zuluft", wave(seed+8, 19.5, 1.2, 0.1, 120))
	m.AddVariable(climate, "ns=2;i=1202", "Temperatur_Abluft", wave(seed+9, 23.0, 0.8, 0.1, 120))
	m.AddVariable(climate, "ns=2;i=1203", "Feuchte", wave(seed+10, 45, 5, 0.5, 90))
	m.AddVariable(climate, "ns=2;i=1204", "Sollwert_Temperatur", Constant(21.0))
	m.AddVariable(climate, "ns=2;i=1205", "Betriebsart", Constant("Automatik"))
	m.AddVariable(climate, "ns=2;i=1206", "Luefter_Ein", Constant(true))
	m.AddVariable(climate, "ns=2;i=1207", "Diagnose", FailAfter(Constant(0.0), 0, errAccessDenied))

	// string identifiers are outside the accepted encodings
	legacy := m.AddObject(plant, "ns=2;s=Legacy", "Legacy")
	m.AddVariable(legacy, "ns=2;s=Legacy.Druck", "Druck", wave(seed+11, 2.1, 0.3, 0.05, 60))

	return m
}
