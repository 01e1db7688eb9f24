package server

// indexHTML is a minimal control page. It sends commands over HTTP and
// renders status from the WebSocket feed.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>memocapture</title>
<style>
  body { font-family: system-ui, sans-serif; max-width: 40rem; margin: 2rem auto; padding: 0 1rem; }
  #state { font-size: 1.4rem; margin: 1rem 0; }
  #state.rec { color: #c62828; }
  #error { color: #c62828; min-height: 1.2rem; }
  button { font-size: 1rem; padding: .5rem 1rem; margin-right: .5rem; }
  li { margin: .3rem 0; }
  audio { vertical-align: middle; height: 2rem; }
</style>
</head>
<body>
<h1>memocapture</h1>
<div id="state">Idle</div>
<div>
  <button id="start">Start</button>
  <button id="stop" disabled>Stop</button>
  <button id="cancel" disabled>Cancel</button>
</div>
<p id="error"></p>
<h2>Recordings</h2>
<ul id="tasks"></ul>
<script>
const $ = (id) => document.getElementById(id);
let status = { isRecording: false, state: "idle" };

async function call(method, path, body) {
  const res = await fetch(path, {
    method,
    headers: body ? { "Content-Type": "application/json" } : {},
    body: body ? JSON.stringify(body) : undefined,
  });
  const data = await res.json();
  $("error").textContent = data.success ? "" : data.error;
  return data;
}

function elapsed(since) {
  const s = Math.max(0, Math.floor((Date.now() - new Date(since)) / 1000));
  return String(Math.floor(s / 60)).padStart(2, "0") + ":" + String(s % 60).padStart(2, "0");
}

function render() {
  const busy = ["starting", "stopping", "cancelling"].includes(status.state);
  $("state").textContent = status.isRecording && !busy ? "Recording " + elapsed(status.startedAt) : status.state;
  $("state").className = status.isRecording ? "rec" : "";
  $("start").disabled = busy || status.isRecording;
  $("stop").disabled = busy || !status.isRecording;
  $("cancel").disabled = busy || !status.isRecording;
}

async function loadTasks() {
  const data = await call("GET", "/api/tasks");
  const list = $("tasks");
  list.innerHTML = "";
  for (const t of data.tasks || []) {
    const li = document.createElement("li");
    li.textContent = t.title + " (" + t.status + ") ";
    if (t.status === "completed" && t.audioPath) {
      const a = document.createElement("audio");
      a.controls = true;
      a.preload = "none";
      a.src = "/api/tasks/" + t.id + "/audio";
      li.appendChild(a);
    }
    list.appendChild(li);
  }
}

function connect() {
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/api/ws");
  ws.onmessage = (msg) => {
    const e = JSON.parse(msg.data);
    if (e.type === "recording.status" && e.status) { status = e.status; render(); }
    if (e.type === "task.changed") loadTasks();
  };
  ws.onclose = () => setTimeout(connect, 2000);
}

$("start").onclick = () => call("POST", "/api/recording/start");
$("stop").onclick = () => call("POST", "/api/recording/stop");
$("cancel").onclick = () => call("POST", "/api/recording/cancel");
setInterval(() => { if (status.isRecording) render(); }, 1000);
connect();
loadTasks();
</script>
</body>
</html>
`
